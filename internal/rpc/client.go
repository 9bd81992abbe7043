package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
	"github.com/google/uuid"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Caller is the contract shared by the Client and its test doubles
type Caller interface {
	Call(ctx context.Context, queue, command string, payload any, timeout time.Duration) (Reply, error)
}

type result struct {
	reply Reply
	err   error
}

// Client sends commands and waits for their replies. All concurrent calls share one
// exclusive reply queue; replies are matched to callers by correlation id only
type Client struct {
	opener broker.ChannelOpener
	logger *slog.Logger

	mu      sync.Mutex
	ch      broker.Channel
	replyTo string
	pending map[string]chan result

	ready     chan struct{}
	readyOnce sync.Once
}

// NewClient creates a client that is not ready until Run has declared its reply queue
func NewClient(opener broker.ChannelOpener, logger *slog.Logger) *Client {
	return &Client{
		opener:  opener,
		logger:  logger,
		pending: make(map[string]chan result),
		ready:   make(chan struct{}),
	}
}

// Run owns the reply queue until ctx is canceled, recreating it whenever the channel dies
func (c *Client) Run(ctx context.Context) {
	broker.Supervise(ctx, "rpc-client", c.logger, c.session)
}

// WaitReady blocks until the first reply queue is consuming
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ready:
		return nil
	}
}

// Pending reports the number of calls still waiting for a reply
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) session(ctx context.Context) error {
	ch, err := c.opener.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// Server-named, exclusive and auto-deleted: private to this process
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume reply queue: %w", err)
	}

	c.mu.Lock()
	c.ch = ch
	c.replyTo = q.Name
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })

	c.logger.Info("RPC reply queue ready", "queue", q.Name)

	defer c.detach(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return broker.ErrDeliveriesClosed
			}
			c.deliver(d)
		}
	}
}

// detach forgets the dead channel and fails every call still waiting on it
func (c *Client) detach(ch broker.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == ch {
		c.ch = nil
		c.replyTo = ""
	}
	for id, waiter := range c.pending {
		delete(c.pending, id)
		waiter <- result{err: &TransportError{Op: "await", Err: broker.ErrDeliveriesClosed}}
	}
	metrics.RPCPending.Set(0)
}

func (c *Client) deliver(d amqp.Delivery) {
	c.mu.Lock()
	waiter, ok := c.pending[d.CorrelationId]
	if ok {
		delete(c.pending, d.CorrelationId)
		metrics.RPCPending.Set(float64(len(c.pending)))
	}
	c.mu.Unlock()

	if !ok {
		// The caller timed out or was canceled; nobody is listening anymore
		c.logger.Debug("Discarding reply without a pending call", "correlation_id", d.CorrelationId)
		return
	}
	waiter <- result{reply: decodeReply(d.CorrelationId, d.Body)}
}

func (c *Client) register(id string) (broker.Channel, string, chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil, "", nil, ErrNotReady
	}
	waiter := make(chan result, 1)
	c.pending[id] = waiter
	metrics.RPCPending.Set(float64(len(c.pending)))
	return c.ch, c.replyTo, waiter, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	metrics.RPCPending.Set(float64(len(c.pending)))
	c.mu.Unlock()
}

// Call publishes exactly one command to queue and waits for its reply.
// It never retries: commands are not assumed idempotent
func (c *Client) Call(ctx context.Context, queue, command string, payload any, timeout time.Duration) (reply Reply, err error) {
	start := time.Now()
	defer func() {
		metrics.RPCCalls.WithLabelValues(command, outcome(err)).Inc()
		metrics.RPCCallDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("rpc: failed to encode %s payload: %w", command, err)
	}

	correlationID := uuid.NewString()
	l := c.logger.With("correlation_id", correlationID, "command", command, "queue", queue)

	ch, replyTo, waiter, err := c.register(correlationID)
	if err != nil {
		return Reply{}, &TransportError{Op: "register", Err: err}
	}
	defer c.unregister(correlationID)

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		Type:          command,
		MessageId:     correlationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
	if err != nil {
		l.Error("Failed to publish command", "error", err)
		return Reply{}, &TransportError{Op: "publish", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-waiter:
		if res.err != nil {
			return Reply{}, res.err
		}
		if res.reply.Error != nil {
			return res.reply, &HandlerError{Command: command, Code: res.reply.Error.Code, Message: res.reply.Error.Message}
		}
		return res.reply, nil
	case <-timer.C:
		l.Warn("Command timed out", "timeout", timeout)
		return Reply{}, fmt.Errorf("%w: %s after %s", ErrTimeout, command, timeout)
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func outcome(err error) string {
	var he *HandlerError
	var te *TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &he):
		return "handler_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &te):
		return "transport_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
