// Package queue wraps a RabbitMQ connection for durable JSON work queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kortrade/internal/middleware"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ActivityLogQueue carries activity log entries to the persisting consumer.
const ActivityLogQueue = "activity_logs"

// ErrMalformed marks a message that can never be processed. The consumer
// drops it instead of requeueing.
var ErrMalformed = errors.New("malformed message")

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// Client holds one connection and one channel. Publishing is serialized
// because amqp channels are not safe for concurrent use.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
	logger  *slog.Logger
}

// Dial connects and declares the given durable queues.
func Dial(url string, queues ...string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}
	if err := ch.Qos(32, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger := middleware.Component("rabbitmq")
	logger.Info("Connected to RabbitMQ", slog.Any("queues", queues))
	return &Client{conn: conn, channel: ch, logger: logger}, nil
}

func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// PublishJSON marshals v and publishes it as a persistent message.
func (c *Client) PublishJSON(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume delivers messages from queue to h until ctx is cancelled or the
// channel closes.
func (c *Client) Consume(ctx context.Context, queue string, h Handler) error {
	msgs, err := c.channel.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.Info("Started consuming", slog.String("queue", queue))

	go func() {
		for msg := range msgs {
			HandleDelivery(ctx, c.logger, msg, h)
		}
		c.logger.Info("Consumer stopped", slog.String("queue", queue))
	}()
	return nil
}

// HandleDelivery runs h and settles the delivery: ack on success, drop on
// ErrMalformed, requeue on any other error.
func HandleDelivery(ctx context.Context, logger *slog.Logger, msg amqp.Delivery, h Handler) {
	err := h(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Warn("ack failed", slog.Any("error", ackErr))
		}
	case errors.Is(err, ErrMalformed):
		logger.Error("dropping malformed message", slog.Any("error", err), slog.Int("size", len(msg.Body)))
		_ = msg.Nack(false, false)
	default:
		logger.Error("handler failed, requeueing", slog.Any("error", err))
		_ = msg.Nack(false, true)
	}
}
