package market

import "sync"

const tapeSize = 50

// Tape keeps the most recent aggregated trades per symbol, newest first.
type Tape struct {
	mu     sync.RWMutex
	trades map[string][]Trade
	size   int
}

func NewTape() *Tape {
	return &Tape{trades: make(map[string][]Trade), size: tapeSize}
}

func (t *Tape) Add(tr Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := append([]Trade{tr}, t.trades[tr.Symbol]...)
	if len(list) > t.size {
		list = list[:t.size]
	}
	t.trades[tr.Symbol] = list
}

// Recent returns a copy of up to limit trades for symbol.
func (t *Tape) Recent(symbol string, limit int) []Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.trades[symbol]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Trade, limit)
	copy(out, list[:limit])
	return out
}
