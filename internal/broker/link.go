package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/pkg/infra"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
)

// Link owns the process's single broker connection for its whole lifetime.
// Run dials and redials it; roles borrow channels through the ChannelOpener methods
type Link struct {
	url     string
	logger  *slog.Logger
	backoff *infra.Backoff

	mu     sync.RWMutex
	conn   *Connection
	closed bool
}

// NewLink creates a link to url. Nothing is dialed until Run
func NewLink(url string, logger *slog.Logger) *Link {
	return &Link{
		url:     url,
		logger:  logger,
		backoff: infra.NewBackoff(1*time.Second, 60*time.Second, 2.0),
	}
}

// Run keeps the connection alive until ctx is canceled, then closes it
func (l *Link) Run(ctx context.Context) {
	defer l.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := Dial(l.url, l.logger)
		if err != nil {
			metrics.BrokerReconnections.Inc()
			l.logger.Error("RabbitMQ link failure, retrying", "attempt", l.backoff.Attempts()+1, "error", err)
			if l.backoff.Wait(ctx) != nil {
				return
			}
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conn = conn
		l.mu.Unlock()

		l.backoff.Reset()
		l.logger.Info("RabbitMQ link established")

		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			l.logger.Warn("RabbitMQ link lost, redialing")
			l.mu.Lock()
			l.conn = nil
			l.mu.Unlock()
		}
	}
}

func (l *Link) current() (*Connection, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil || !l.conn.IsHealthy() {
		return nil, ErrNotConnected
	}
	return l.conn, nil
}

func (l *Link) Channel() (Channel, error) {
	conn, err := l.current()
	if err != nil {
		return nil, err
	}
	return conn.Channel()
}

func (l *Link) ConfirmChannel() (Channel, error) {
	conn, err := l.current()
	if err != nil {
		return nil, err
	}
	return conn.ConfirmChannel()
}

// IsHealthy reports whether a connection is currently established
func (l *Link) IsHealthy() bool {
	_, err := l.current()
	return err == nil
}

// Close releases the connection. It is safe to call more than once and from any exit path
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
