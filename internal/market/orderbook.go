package market

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrBookNotReady is returned while the book waits for a snapshot.
	ErrBookNotReady = errors.New("order book not synchronized")
	// ErrBookGap means an update was missed and the book needs a new snapshot.
	ErrBookGap = errors.New("order book sequence gap")
)

type bookState int

const (
	// stateBuffering: no snapshot yet, deltas are queued.
	stateBuffering bookState = iota
	// stateAwaitFirst: snapshot loaded, waiting for the event that
	// straddles lastUpdateId.
	stateAwaitFirst
	stateLive
)

const maxBuffered = 1000

// BookSnapshot is the top of a local order book.
type BookSnapshot struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// OrderBook maintains a local copy of one symbol's book from a REST
// snapshot plus diff-depth events:
//   - events before the snapshot are buffered
//   - events with u < lastUpdateId are dropped
//   - the first applied event must satisfy U <= lastUpdateId <= u
//   - every later event must have pu equal to the previous u
type OrderBook struct {
	mu        sync.RWMutex
	symbol    string
	state     bookState
	bids      map[float64]float64
	asks      map[float64]float64
	lastID    int64
	buffer    []DepthEvent
	updatedAt time.Time
	dirty     bool
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// Ready reports whether the book is in sync with the stream.
func (b *OrderBook) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == stateLive
}

// Apply feeds one stream event into the book. ErrBookGap means the caller
// must Reset and load a new snapshot.
func (b *OrderBook) Apply(ev DepthEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(ev)
}

func (b *OrderBook) applyLocked(ev DepthEvent) error {
	switch b.state {
	case stateBuffering:
		if len(b.buffer) >= maxBuffered {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, ev)
		return nil

	case stateAwaitFirst:
		if ev.FinalUpdateID < b.lastID {
			return nil
		}
		if ev.FirstUpdateID > b.lastID {
			b.resetLocked()
			return ErrBookGap
		}

	case stateLive:
		if ev.FinalUpdateID < b.lastID {
			return nil
		}
		if ev.PrevFinalID != b.lastID {
			b.resetLocked()
			return ErrBookGap
		}
	}

	applyLevels(b.bids, ev.Bids)
	applyLevels(b.asks, ev.Asks)
	b.lastID = ev.FinalUpdateID
	b.state = stateLive
	b.updatedAt = ev.EventTime
	b.dirty = true
	return nil
}

// LoadSnapshot replaces the book with snap and replays buffered events.
func (b *OrderBook) LoadSnapshot(snap DepthSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64, len(snap.Bids))
	b.asks = make(map[float64]float64, len(snap.Asks))
	applyLevels(b.bids, snap.Bids)
	applyLevels(b.asks, snap.Asks)
	b.lastID = snap.LastUpdateID
	b.state = stateAwaitFirst
	b.updatedAt = time.Now()
	b.dirty = true

	buffered := b.buffer
	b.buffer = nil
	for _, ev := range buffered {
		if err := b.applyLocked(ev); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops the book contents and starts buffering again.
func (b *OrderBook) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *OrderBook) resetLocked() {
	b.state = stateBuffering
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.buffer = nil
	b.lastID = 0
}

// Top returns the best n levels per side, bids descending and asks
// ascending.
func (b *OrderBook) Top(n int) (BookSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != stateLive {
		return BookSnapshot{}, ErrBookNotReady
	}
	return BookSnapshot{
		Symbol:       b.symbol,
		LastUpdateID: b.lastID,
		Bids:         sortedLevels(b.bids, n, true),
		Asks:         sortedLevels(b.asks, n, false),
		UpdatedAt:    b.updatedAt,
	}, nil
}

// takeDirty reports whether the book changed since the last call.
func (b *OrderBook) takeDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.dirty && b.state == stateLive
	b.dirty = false
	return d
}

func applyLevels(side map[float64]float64, levels []PriceLevel) {
	for _, l := range levels {
		if l.Quantity == 0 {
			delete(side, l.Price)
			continue
		}
		side[l.Price] = l.Quantity
	}
}

func sortedLevels(side map[float64]float64, n int, desc bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(side))
	for p, q := range side {
		out = append(out, PriceLevel{Price: p, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
