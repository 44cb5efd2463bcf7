package notifications

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"

	"kortrade/internal/cache"
	"kortrade/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Redis pub/sub channels. Every API instance subscribes to all of them and
// delivers to its own sockets.
const (
	userChannelPrefix   = "notifications:user:"
	broadcastChannel    = "notifications:broadcast"
	marketChannelPrefix = "market:"
)

// subscriberBuffer absorbs bursts of depth updates before go-redis starts
// dropping messages for a slow handler.
const subscriberBuffer = 1024

// Notifier publishes events to Redis and runs the subscribers that feed the
// hubs. A nil client turns every call into a no-op.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser targets every socket of one member, on any instance.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	return n.publish(ctx, UserChannel(userID), payload)
}

// PublishBroadcast reaches every connected member.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload string) error {
	return n.publish(ctx, broadcastChannel, payload)
}

// PublishMarket reaches every viewer of symbol.
func (n *Notifier) PublishMarket(ctx context.Context, symbol, payload string) error {
	return n.publish(ctx, MarketChannel(symbol), payload)
}

func (n *Notifier) publish(ctx context.Context, channel, payload string) error {
	if n.rdb == nil {
		return nil
	}
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// StartPatternSubscriber delivers personal and broadcast notifications
// until ctx is cancelled.
func (n *Notifier) StartPatternSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "notifications", onMessage, userChannelPrefix+"*", broadcastChannel)
}

// StartMarketSubscriber delivers market:<symbol> events until ctx is
// cancelled.
func (n *Notifier) StartMarketSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "market", onMessage, marketChannelPrefix+"*")
}

// subscribe returns once Redis confirmed the subscription, so a publish
// right after it is not lost.
func (n *Notifier) subscribe(ctx context.Context, name string, onMessage func(channel, payload string), patterns ...string) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("psubscribe %s: %w", strings.Join(patterns, ","), err)
	}

	messages := sub.Channel(redis.WithChannelSize(subscriberBuffer))
	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				deliver(name, msg, onMessage)
			}
		}
	}()
	return nil
}

// deliver isolates handler panics so one bad payload does not end the
// subscription.
func deliver(name string, msg *redis.Message, onMessage func(channel, payload string)) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(name, "handler_panic").Inc()
			log.Printf("PANIC in %s subscriber on %s: %v\n%s", name, msg.Channel, r, debug.Stack())
		}
	}()
	onMessage(msg.Channel, msg.Payload)
}

func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

func MarketChannel(symbol string) string {
	return cache.MarketChannel(symbol)
}

// parseUserChannel reads the member ID from notifications:user:<id>.
func parseUserChannel(channel string) (uint, bool) {
	raw, ok := strings.CutPrefix(channel, userChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
