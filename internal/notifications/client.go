package notifications

import (
	"log/slog"
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/observability"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Inbound frames are subscribe/unsubscribe/ping commands.
	maxMessageSize = 4096
	sendBuffer     = 256

	inboundRate  = 5
	inboundBurst = 20
)

var droppedNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// WSHub is implemented by the notification and market hubs.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one websocket connection. Hubs queue frames on Send; the write
// loop owns the connection's writer.
type Client struct {
	Hub    WSHub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uint

	// IncomingHandler gets text frames within the inbound budget.
	IncomingHandler func(*Client, []byte)
	// OnActivity runs for every inbound frame and pong.
	OnActivity func(userID uint)

	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		UserID:  userID,
		Send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		logger: middleware.Component("websocket").With(
			slog.String("hub", hub.Name()), slog.Uint64("user_id", uint64(userID))),
	}
}

// Serve runs the connection until the peer leaves. onOpen, if set, runs
// once the writer is live, so it may queue frames.
func (c *Client) Serve(onOpen func()) {
	go c.writeLoop()
	if onOpen != nil {
		onOpen()
	}
	c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	extend := func() error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend()
	c.Conn.SetPongHandler(func(string) error {
		c.active()
		return extend()
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		c.active()
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame []byte) {
	if c.IncomingHandler == nil {
		return
	}
	if !c.Allow() {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "inbound_rate").Inc()
		return
	}
	c.IncomingHandler(c, frame)
}

func (c *Client) active() {
	if c.OnActivity != nil {
		c.OnActivity(c.UserID)
	}
}

// Allow spends one unit of the inbound budget.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) writeLoop() {
	keepalive := time.NewTicker(pingPeriod)
	defer func() {
		keepalive.Stop()
		_ = c.Conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.Conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case frame, open := <-c.Send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, frame)
		case <-keepalive.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// TrySend queues frame without blocking. On a full queue the frame is
// dropped and, room permitting, the client is told to re-fetch.
func (c *Client) TrySend(frame []byte) {
	defer func() {
		// Send is closed once the hub unregistered the client.
		if recover() != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- frame:
		return
	default:
	}
	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	c.logger.Warn("send queue full, frame dropped")
	select {
	case c.Send <- droppedNotice:
	default:
	}
}
