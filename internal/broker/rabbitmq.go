package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-track/internal/delivery"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/pkg/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmTimeout = 10 * time.Second

// AMQPTransport publishes records to a topic exchange instead of calling the
// HTTP collector. It satisfies delivery.Transport.
type AMQPTransport struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewAMQPTransport dials the broker, declares the exchange and enables
// publisher confirms.
func NewAMQPTransport(url, exchange string, l *slog.Logger) (*AMQPTransport, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &AMQPTransport{
		conn:       c,
		channel:    ch,
		exchange:   exchange,
		logger:     l.With("component", "amqp"),
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	t.healthy.Store(true)
	metrics.TransportHealthy.Set(1)

	t.conn.NotifyClose(t.connClosed)
	t.channel.NotifyClose(t.chanClosed)

	go t.watch()

	t.logger.Info("Connected to RabbitMQ", "exchange", exchange)
	return t, nil
}

func (t *AMQPTransport) watch() {
	select {
	case err := <-t.connClosed:
		t.markUnhealthy("connection", err)
	case err := <-t.chanClosed:
		t.markUnhealthy("channel", err)
	case <-t.ctx.Done():
	}
}

func (t *AMQPTransport) markUnhealthy(what string, err *amqp.Error) {
	t.healthy.Store(false)
	metrics.TransportHealthy.Set(0)
	t.logger.Warn("RabbitMQ "+what+" closed", "error", err)
}

// RoutingKey is track.<route>.<eventType>, with dots in the event type
// replaced so custom types cannot add topic levels.
func RoutingKey(route delivery.Route, eventType string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	return fmt.Sprintf("track.%s.%s", route, strings.ReplaceAll(eventType, ".", "_"))
}

// Send publishes the flattened record and blocks until the broker confirms it.
func (t *AMQPTransport) Send(ctx context.Context, route delivery.Route, r models.Record) (*delivery.Response, error) {
	if !t.IsHealthy() {
		return nil, fmt.Errorf("%w: broker connection is closed", delivery.ErrRequestFailed)
	}

	body, err := json.Marshal(r.Wire())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}

	routingKey := RoutingKey(route, r.EventType)
	deferred, err := t.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		t.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			Headers: amqp.Table{
				"session_id": r.SessionID,
			},
			MessageId:    uuid.NewString(),
			Timestamp:    time.UnixMilli(r.Timestamp),
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		t.logger.Error("failed to publish record to exchange", "routing_key", routingKey, "error", err)
		return nil, fmt.Errorf("%w: publish: %w", delivery.ErrRequestFailed, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", delivery.ErrRequestFailed, ctx.Err())
	case <-deferred.Done():
		if !deferred.Acked() {
			return nil, fmt.Errorf("%w: RabbitMQ NACK received", delivery.ErrRequestFailed)
		}
		return &delivery.Response{Success: true, RawResponse: "OK"}, nil
	case <-time.After(confirmTimeout):
		return nil, fmt.Errorf("%w: publisher confirm timeout", delivery.ErrRequestFailed)
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (t *AMQPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.logger.Info("Terminating RabbitMQ transport")
		if t.cancel != nil {
			t.cancel()
		}
		if t.channel != nil {
			t.channel.Close()
		}
		if t.conn != nil {
			t.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (t *AMQPTransport) IsHealthy() bool {
	return t.healthy.Load()
}
