package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKey        = "ws:presence"
	presenceTTL        = 90 * time.Second
	presenceGrace      = 5 * time.Second
	presenceSweepEvery = time.Minute
)

type presenceOptions struct {
	Key        string
	TTL        time.Duration
	Grace      time.Duration
	SweepEvery time.Duration
}

// Presence tracks which traders hold a live socket. Local connection counts
// cover this instance; a Redis sorted set scored by last activity (unix
// seconds) is shared by every instance. A user who drops all sockets stays
// online for a short grace period so page reloads do not flap.
type Presence struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	grace time.Duration

	mu       sync.Mutex
	local    map[uint]int
	pending  map[uint]*time.Timer
	online   map[uint]bool
	onChange func(userID uint, online bool)

	stop     chan struct{}
	stopOnce sync.Once
}

func newPresence(rdb *redis.Client, opts presenceOptions) *Presence {
	p := &Presence{
		rdb:     rdb,
		key:     presenceKey,
		ttl:     presenceTTL,
		grace:   presenceGrace,
		local:   make(map[uint]int),
		pending: make(map[uint]*time.Timer),
		online:  make(map[uint]bool),
		stop:    make(chan struct{}),
	}
	if opts.Key != "" {
		p.key = opts.Key
	}
	if opts.TTL > 0 {
		p.ttl = opts.TTL
	}
	if opts.Grace > 0 {
		p.grace = opts.Grace
	}
	sweep := opts.SweepEvery
	if sweep <= 0 {
		sweep = presenceSweepEvery
	}
	if rdb != nil {
		go p.sweepLoop(sweep)
	}
	return p
}

// OnChange installs the transition hook. It runs outside the lock.
func (p *Presence) OnChange(fn func(userID uint, online bool)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Connect counts a new socket for userID.
func (p *Presence) Connect(ctx context.Context, userID uint) {
	p.mu.Lock()
	if t := p.pending[userID]; t != nil {
		t.Stop()
		delete(p.pending, userID)
	}
	p.local[userID]++
	p.mu.Unlock()

	p.Touch(ctx, userID)
	p.transition(userID, true)
}

// Touch refreshes the shared last-seen score.
func (p *Presence) Touch(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	err := p.rdb.ZAdd(ctx, p.key, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: member(userID),
	}).Err()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_touch").Inc()
		middleware.Component("presence").Warn("presence touch failed",
			slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
	}
}

// Disconnect releases one socket. The last one starts the grace timer.
func (p *Presence) Disconnect(userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.local[userID] > 1 {
		p.local[userID]--
		return
	}
	delete(p.local, userID)
	if t := p.pending[userID]; t != nil {
		t.Stop()
	}
	p.pending[userID] = time.AfterFunc(p.grace, func() { p.settle(userID) })
}

func (p *Presence) settle(userID uint) {
	p.mu.Lock()
	delete(p.pending, userID)
	reconnected := p.local[userID] > 0
	p.mu.Unlock()
	if reconnected {
		return
	}

	// Sockets on other instances re-add the member on their next pong.
	if p.rdb != nil {
		if err := p.rdb.ZRem(context.Background(), p.key, member(userID)).Err(); err != nil {
			observability.RedisErrorRate.WithLabelValues("presence_remove").Inc()
		}
	}
	p.transition(userID, false)
}

// IsOnline reports a local socket or a fresh shared score.
func (p *Presence) IsOnline(ctx context.Context, userID uint) bool {
	p.mu.Lock()
	local := p.local[userID] > 0
	p.mu.Unlock()
	if local || p.rdb == nil {
		return local
	}
	score, err := p.rdb.ZScore(ctx, p.key, member(userID)).Result()
	if err != nil {
		return false
	}
	return time.Since(time.Unix(int64(score), 0)) <= p.ttl
}

// OnlineIDs lists users seen within the TTL on any instance plus local
// sockets. Redis failures degrade to the local view.
func (p *Presence) OnlineIDs(ctx context.Context) []uint {
	seen := make(map[uint]struct{})
	p.mu.Lock()
	for userID, n := range p.local {
		if n > 0 {
			seen[userID] = struct{}{}
		}
	}
	p.mu.Unlock()

	if p.rdb != nil {
		members, err := p.rdb.ZRangeByScore(ctx, p.key, &redis.ZRangeBy{
			Min: strconv.FormatInt(p.cutoff(), 10),
			Max: "+inf",
		}).Result()
		if err != nil {
			observability.RedisErrorRate.WithLabelValues("presence_scan").Inc()
		}
		for _, raw := range members {
			if userID, ok := parseMember(raw); ok {
				seen[userID] = struct{}{}
			}
		}
	}

	ids := make([]uint, 0, len(seen))
	for userID := range seen {
		ids = append(ids, userID)
	}
	return ids
}

// sweep drops members whose instance stopped touching them.
func (p *Presence) sweep(ctx context.Context) {
	upper := "(" + strconv.FormatInt(p.cutoff(), 10)
	stale, err := p.rdb.ZRangeByScore(ctx, p.key, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_sweep").Inc()
		return
	}
	if len(stale) == 0 {
		return
	}
	if err := p.rdb.ZRemRangeByScore(ctx, p.key, "-inf", upper).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_sweep").Inc()
		return
	}
	for _, raw := range stale {
		userID, ok := parseMember(raw)
		if !ok {
			continue
		}
		p.mu.Lock()
		local := p.local[userID] > 0
		p.mu.Unlock()
		if !local {
			p.transition(userID, false)
		}
	}
}

func (p *Presence) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(context.Background())
		}
	}
}

// Stop halts the sweeper and pending grace timers.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		for userID, t := range p.pending {
			t.Stop()
			delete(p.pending, userID)
		}
		p.mu.Unlock()
	})
}

// transition fires the hook only when the announced state flips.
func (p *Presence) transition(userID uint, online bool) {
	p.mu.Lock()
	if p.online[userID] == online {
		p.mu.Unlock()
		return
	}
	if online {
		p.online[userID] = true
	} else {
		delete(p.online, userID)
	}
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(userID, online)
	}
}

func (p *Presence) cutoff() int64 {
	return time.Now().Add(-p.ttl).Unix()
}

func member(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

func parseMember(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
