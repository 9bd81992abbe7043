package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc serves one command. The returned value is JSON encoded into the reply
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Handle adapts a typed function into a HandlerFunc, decoding the payload into Req
func Handle[Req, Res any](fn func(ctx context.Context, req Req) (Res, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, Errorf(CodeBadRequest, "malformed payload: %v", err)
			}
		}
		return fn(ctx, req)
	}
}

type errorMapping struct {
	target error
	code   string
}

// Router is the command registration table of a service
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	mappings []errorMapping
	logger   *slog.Logger
}

// NewRouter creates an empty command table. Register everything before Run
func NewRouter(logger *slog.Logger) *Router {
	return &Router{handlers: make(map[string]HandlerFunc), logger: logger}
}

// Register binds a command name to its handler. A name maps to exactly one handler,
// so registering it twice is a programming error
func (r *Router) Register(command string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[command]; exists {
		panic(fmt.Sprintf("rpc: handler for %s already registered", command))
	}
	r.handlers[command] = h
}

// MapError makes handler errors matching target (errors.Is) reply with code
func (r *Router) MapError(target error, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = append(r.mappings, errorMapping{target: target, code: code})
}

// Commands lists the registered command names
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for command and always produces a Reply
func (r *Router) Dispatch(ctx context.Context, command string, payload []byte) (reply Reply) {
	r.mu.RLock()
	h, ok := r.handlers[command]
	r.mu.RUnlock()

	if !ok {
		metrics.RPCHandled.WithLabelValues("unknown", "unknown").Inc()
		return Reply{Error: &ErrorEnvelope{Code: CodeUnknownCommand, Message: "no handler registered for " + command}}
	}

	start := time.Now()
	defer func() {
		metrics.RPCHandlerDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			r.logger.Error("Command handler panicked", "command", command, "panic", p)
			metrics.RPCHandled.WithLabelValues(command, "panic").Inc()
			reply = Reply{Error: &ErrorEnvelope{Code: CodeInternal, Message: fmt.Sprintf("handler panic: %v", p)}}
		}
	}()

	res, err := h(ctx, payload)
	if err != nil {
		metrics.RPCHandled.WithLabelValues(command, "error").Inc()
		return Reply{Error: r.envelope(err)}
	}

	data, err := json.Marshal(res)
	if err != nil {
		metrics.RPCHandled.WithLabelValues(command, "error").Inc()
		return Reply{Error: &ErrorEnvelope{Code: CodeInternal, Message: "failed to encode result: " + err.Error()}}
	}

	metrics.RPCHandled.WithLabelValues(command, "ok").Inc()
	return Reply{Data: data}
}

func (r *Router) envelope(err error) *ErrorEnvelope {
	var he *HandlerError
	if errors.As(err, &he) {
		return &ErrorEnvelope{Code: he.Code, Message: he.Message}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mappings {
		if errors.Is(err, m.target) {
			return &ErrorEnvelope{Code: m.code, Message: err.Error()}
		}
	}
	return &ErrorEnvelope{Code: CodeInternal, Message: err.Error()}
}

// Serve consumes the binding's queue on ch until ctx is canceled or the channel dies.
// Up to Prefetch commands are handled concurrently
func (r *Router) Serve(ctx context.Context, ch broker.Channel, b config.Binding) error {
	prefetch := b.PrefetchOrDefault()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	q, err := ch.QueueDeclare(b.Name, b.Durable, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	r.logger.Info("Command router is online", "queue", q.Name, "prefetch", prefetch, "commands", r.Commands())

	var wg sync.WaitGroup
	closed := make(chan struct{})
	var closeOnce sync.Once

	for range prefetch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						closeOnce.Do(func() { close(closed) })
						return
					}
					r.handle(ctx, ch, d)
				}
			}
		}()
	}
	wg.Wait()

	select {
	case <-closed:
		return broker.ErrDeliveriesClosed
	default:
		return nil
	}
}

// Run serves b on channels from opener until ctx is canceled, reopening after failures
func (r *Router) Run(ctx context.Context, opener broker.ChannelOpener, b config.Binding) {
	broker.Supervise(ctx, "router:"+b.Name, r.logger, func(ctx context.Context) error {
		ch, err := opener.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		return r.Serve(ctx, ch, b)
	})
}

func (r *Router) handle(ctx context.Context, ch broker.Channel, d amqp.Delivery) {
	l := r.logger.With("correlation_id", d.CorrelationId, "command", d.Type)

	reply := r.Dispatch(ctx, d.Type, d.Body)
	if reply.Error != nil {
		l.Warn("Command failed", "code", reply.Error.Code, "error", reply.Error.Message)
	}

	// A caller that timed out still owns its reply queue; the client drops replies
	// whose correlation id it no longer tracks. If the reply queue is gone (caller
	// process restarted) the unroutable publish is simply dropped by the broker
	if d.ReplyTo != "" {
		err := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
			ContentType:   contentTypeJSON,
			CorrelationId: d.CorrelationId,
			Timestamp:     time.Now().UTC(),
			Body:          encodeReply(reply),
		})
		if err != nil {
			l.Error("Failed to publish reply", "reply_to", d.ReplyTo, "error", err)
		}
	} else {
		l.Debug("Command without reply_to, result dropped")
	}

	if err := d.Ack(false); err != nil {
		l.Error("Failed to Ack command", "error", err)
	}
}
