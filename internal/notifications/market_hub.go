package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"kortrade/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxSymbolsPerClient = 10

var (
	ErrSymbolNotListed  = errors.New("symbol is not listed")
	ErrTooManySymbols   = errors.New("too many symbol subscriptions")
	errBadMarketCommand = errors.New("unknown market command")
)

// MarketHub is symbol-centric: each client subscribes to the symbols it
// watches and receives the exchange events published on market:<symbol>.
type MarketHub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}

	listed   func(symbol string) bool
	snapshot func(ctx context.Context, symbol string) []string
}

// marketCommand is what clients send to manage subscriptions.
type marketCommand struct {
	Type    string   `json:"type"`
	Symbol  string   `json:"symbol"`
	Symbols []string `json:"symbols"`
}

func (h *MarketHub) Name() string { return "market hub" }

// NewMarketHub creates a hub that only accepts symbols for which listed
// returns true.
func NewMarketHub(listed func(symbol string) bool) *MarketHub {
	return &MarketHub{
		subs:    make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]struct{}),
		listed:  listed,
	}
}

// SetSnapshotFunc installs the callback that produces the initial messages
// (book, ticker, mark) sent right after a subscription.
func (h *MarketHub) SetSnapshotFunc(fn func(ctx context.Context, symbol string) []string) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Register adds a connection. userID is 0 for anonymous viewers.
func (h *MarketHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if len(h.clients) >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	client := NewClient(h, conn, userID)
	client.IncomingHandler = h.handleIncoming
	h.clients[client] = make(map[string]struct{})
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(h.Name()).Inc()
	return client, nil
}

// UnregisterClient drops the client and all of its subscriptions.
func (h *MarketHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	symbols, ok := h.clients[client]
	if !ok {
		h.mu.Unlock()
		return
	}
	for symbol := range symbols {
		h.removeLocked(client, symbol)
	}
	delete(h.clients, client)
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(h.Name()).Dec()
}

// Subscribe starts forwarding symbol events to client and pushes the
// current snapshot.
func (h *MarketHub) Subscribe(ctx context.Context, client *Client, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if h.listed != nil && !h.listed(symbol) {
		return ErrSymbolNotListed
	}

	h.mu.Lock()
	symbols, ok := h.clients[client]
	if !ok {
		h.mu.Unlock()
		return errors.New("client is not registered")
	}
	if _, already := symbols[symbol]; already {
		h.mu.Unlock()
		return nil
	}
	if len(symbols) >= maxSymbolsPerClient {
		h.mu.Unlock()
		return ErrTooManySymbols
	}
	symbols[symbol] = struct{}{}
	set, ok := h.subs[symbol]
	if !ok {
		set = make(map[*Client]struct{})
		h.subs[symbol] = set
	}
	set[client] = struct{}{}
	snapshot := h.snapshot
	h.mu.Unlock()

	if snapshot != nil {
		for _, msg := range snapshot(ctx, symbol) {
			client.TrySend([]byte(msg))
		}
	}
	return nil
}

// Unsubscribe stops forwarding symbol to client.
func (h *MarketHub) Unsubscribe(client *Client, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	h.mu.Lock()
	if symbols, ok := h.clients[client]; ok {
		delete(symbols, symbol)
	}
	h.removeLocked(client, symbol)
	h.mu.Unlock()
}

func (h *MarketHub) removeLocked(client *Client, symbol string) {
	set, ok := h.subs[symbol]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.subs, symbol)
	}
}

// Subscriptions lists the symbols client watches, sorted.
func (h *MarketHub) Subscriptions(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients[client]))
	for s := range h.clients[client] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Watchers returns how many clients follow symbol.
func (h *MarketHub) Watchers(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[symbol])
}

// Broadcast forwards payload to every subscriber of symbol.
func (h *MarketHub) Broadcast(symbol string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.subs[symbol]
	if !ok {
		return
	}
	data := []byte(payload)
	for c := range set {
		c.TrySend(data)
	}
}

// StartWiring forwards market:<symbol> messages from Redis to subscribers.
func (h *MarketHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartMarketSubscriber(ctx, func(channel, payload string) {
		symbol, ok := strings.CutPrefix(channel, marketChannelPrefix)
		if !ok || symbol == "" {
			return
		}
		h.Broadcast(symbol, payload)
	})
}

func (h *MarketHub) handleIncoming(c *Client, raw []byte) {
	var cmd marketCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.reply(c, "error", map[string]string{"message": "invalid message"})
		return
	}
	symbols := cmd.Symbols
	if cmd.Symbol != "" {
		symbols = append(symbols, cmd.Symbol)
	}

	switch cmd.Type {
	case "subscribe":
		for _, s := range symbols {
			if err := h.Subscribe(context.Background(), c, s); err != nil {
				h.reply(c, "error", map[string]string{"symbol": s, "message": err.Error()})
			}
		}
	case "unsubscribe":
		for _, s := range symbols {
			h.Unsubscribe(c, s)
		}
	case "ping":
		h.reply(c, "pong", nil)
		return
	default:
		h.reply(c, "error", map[string]string{"message": errBadMarketCommand.Error()})
		return
	}
	h.reply(c, "subscriptions", map[string][]string{"symbols": h.Subscriptions(c)})
}

func (h *MarketHub) reply(c *Client, msgType string, payload any) {
	b, err := json.Marshal(map[string]any{"type": msgType, "payload": payload})
	if err != nil {
		return
	}
	c.TrySend(b)
}

// Shutdown closes every market connection.
func (h *MarketHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.Conn == nil {
			continue
		}
		_ = client.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
		if err := client.Conn.Close(); err != nil {
			log.Printf("failed to close market websocket: %v", err)
		}
	}
	h.clients = make(map[*Client]map[string]struct{})
	h.subs = make(map[string]map[*Client]struct{})
	return nil
}
