// Package notifications delivers personal and community events to
// browsers over websockets, fanned out across instances through Redis.
package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"kortrade/internal/middleware"
	"kortrade/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

var (
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrHubClosed       = errors.New("notification hub is shutting down")
)

// Hub holds the notification sockets of this instance, grouped by user.
// Comment, like, reward and liquidation events target one user; new posts
// and notices go to everyone.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*Client]struct{}
	count   int
	closed  bool

	presence *Presence
	logger   *slog.Logger
}

// NewHub builds a hub. rdb may be nil, in which case presence is local only.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{
		clients:  make(map[uint]map[*Client]struct{}),
		presence: newPresence(rdb, presenceOptions{}),
		logger:   middleware.Component("notifications"),
	}
	h.presence.OnChange(func(_ uint, online bool) {
		if online {
			observability.OnlineTraders.Inc()
		} else {
			observability.OnlineTraders.Dec()
		}
	})
	return h
}

func (h *Hub) Name() string { return "notifications" }

// Register attaches a socket for userID and counts it toward presence.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return nil, ErrHubClosed
	case h.count >= maxTotalConns:
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	case len(h.clients[userID]) >= maxConnsPerUser:
		h.mu.Unlock()
		return nil, ErrUserConnLimit
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid uint) { h.presence.Touch(context.Background(), uid) }
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
	h.count++
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(h.Name()).Inc()
	h.presence.Connect(context.Background(), userID)
	return client, nil
}

// UnregisterClient is safe to call more than once for the same client.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	set := h.clients[client.UserID]
	if _, ok := set[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	h.count--
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(h.Name()).Dec()
	h.presence.Disconnect(client.UserID)
}

// targets copies the recipient list so sends happen outside the lock.
func (h *Hub) targets(userID uint, all bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, 4)
	for uid, set := range h.clients {
		if !all && uid != userID {
			continue
		}
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast sends message to every socket of userID.
func (h *Hub) Broadcast(userID uint, message string) {
	data := []byte(message)
	for _, c := range h.targets(userID, false) {
		c.TrySend(data)
	}
}

// BroadcastAll sends message to every socket on this instance.
func (h *Hub) BroadcastAll(message string) {
	data := []byte(message)
	for _, c := range h.targets(0, true) {
		c.TrySend(data)
	}
}

func (h *Hub) IsOnline(userID uint) bool {
	return h.presence.IsOnline(context.Background(), userID)
}

// OnlineCount is read by the admin dashboard.
func (h *Hub) OnlineCount(ctx context.Context) int {
	return len(h.presence.OnlineIDs(ctx))
}

// StartWiring forwards notifier traffic to local sockets until ctx ends.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		if channel == broadcastChannel {
			h.BroadcastAll(payload)
			return
		}
		userID, ok := parseUserChannel(channel)
		if !ok {
			h.logger.Warn("invalid notification channel", slog.String("channel", channel))
			return
		}
		h.Broadcast(userID, payload)
	})
}

// Shutdown refuses new sockets, sends a going-away frame to the open ones
// and closes them.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	open := h.clients
	h.clients = make(map[uint]map[*Client]struct{})
	h.count = 0
	h.mu.Unlock()

	h.presence.Stop()

	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for userID, set := range open {
		for c := range set {
			observability.WebSocketConnectionsTotal.WithLabelValues(h.Name()).Dec()
			if c.Conn == nil {
				continue
			}
			if err := c.Conn.WriteMessage(websocket.CloseMessage, frame); err != nil {
				h.logger.Debug("close frame failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			}
			_ = c.Conn.Close()
		}
	}
	return nil
}
