package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-social-mesh/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmTimeout = 10 * time.Second

// Connection wraps a single AMQP connection. Channels opened from it serialize their publishes,
// so RPC replies, events and health probes can share the connection from any goroutine
type Connection struct {
	conn       *amqp.Connection
	logger     *slog.Logger
	connClosed chan *amqp.Error
	done       chan struct{}
	closeOnce  sync.Once
	healthy    atomic.Bool
}

// Dial opens the connection and starts watching for broker-side closure
func Dial(url string, l *slog.Logger) (*Connection, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	conn := &Connection{
		conn:       c,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		done:       make(chan struct{}),
	}
	conn.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	conn.conn.NotifyClose(conn.connClosed)

	go func() {
		select {
		case err := <-conn.connClosed:
			conn.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			if err != nil {
				l.Warn("RabbitMQ connection closed", "error", err)
			}
			conn.closeOnce.Do(func() { close(conn.done) })
		case <-conn.done:
		}
	}()

	return conn, nil
}

// Channel opens a plain channel
func (c *Connection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	return &serialChannel{Channel: ch}, nil
}

// ConfirmChannel opens a channel in publisher-confirm mode
func (c *Connection) ConfirmChannel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}
	return &serialChannel{Channel: ch, confirm: true}, nil
}

// Done is closed once the connection is gone, whether the broker dropped it or Close was called
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsHealthy returns true while the connection is open
func (c *Connection) IsHealthy() bool {
	return c.healthy.Load()
}

// Close gracefully shuts down the connection and every channel opened on it
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Terminating RabbitMQ connection")
		c.healthy.Store(false)
		metrics.HealthStatus.Set(0)
		close(c.done)
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
	})
	return err
}

// serialChannel guards publishes with a mutex. In confirm mode the wait for the broker ack
// happens outside the lock so one slow confirm does not stall other publishers
type serialChannel struct {
	*amqp.Channel
	mu      sync.Mutex
	confirm bool
}

func (s *serialChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if !s.confirm {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.Channel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
	}

	s.mu.Lock()
	deferred, err := s.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish call failed: %w", err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return ErrNacked
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publisher confirm timeout")
	}
}
