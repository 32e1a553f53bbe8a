package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	connectTimeout   = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

var errClosed = errors.New("rabbitmq client is closed")

type dialFunc func(url string) (*amqp.Connection, error)

// RabbitMQ is a publish-only broker client. It keeps one confirm-mode channel
// and redials lazily when the connection or channel has gone away.
type RabbitMQ struct {
	url  string
	dial dialFunc

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	r, err := newRabbitMQ(url, amqp.Dial)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.channelLocked(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func newRabbitMQ(url string, dial dialFunc) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if dial == nil {
		dial = amqp.Dial
	}
	return &RabbitMQ{url: url, dial: dial}, nil
}

// Publish sends msg to the events exchange and waits for the broker confirm.
func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errClosed
	}

	ch, err := r.channelLocked(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, routingKey, false, false, msg)
	if err != nil {
		r.resetLocked()
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s event: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s event", routingKey)
	}

	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conn := r.conn
	r.conn, r.ch = nil, nil

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) channelLocked(ctx context.Context) (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := r.dialWithBackoff(ctx)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("failed to create rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	r.ch = ch
	return ch, nil
}

// resetLocked drops the current connection so the next publish redials.
func (r *RabbitMQ) resetLocked() {
	if r.conn != nil && !r.conn.IsClosed() {
		_ = r.conn.Close()
	}
	r.conn, r.ch = nil, nil
}

func (r *RabbitMQ) dialWithBackoff(ctx context.Context) (*amqp.Connection, error) {
	wait := reconnectBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			return conn, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("rabbitmq dial canceled (last error: %v): %w", err, ctx.Err())
		case <-timer.C:
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

// declareTopology declares the durable topic exchange and the audit queue
// that keeps every batch event.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", ExchangeName, err)
	}
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", AuditQueueName, err)
	}
	if err := ch.QueueBind(AuditQueueName, batchRoutingPattern, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", AuditQueueName, err)
	}
	return nil
}
