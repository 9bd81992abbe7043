package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
	"github.com/google/uuid"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishFailure is returned once every publish attempt for an event has failed
type PublishFailure struct {
	RoutingKey string
	EntityID   string
	Attempts   int
	Err        error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("event %s for %s not published after %d attempts: %v", e.RoutingKey, e.EntityID, e.Attempts, e.Err)
}

func (e *PublishFailure) Unwrap() error {
	return e.Err
}

type PublisherConfig struct {
	Exchange   string
	Source     string
	MaxRetries int
	RetryDelay time.Duration
}

// Publisher emits domain events to a topic exchange over a confirm channel
type Publisher struct {
	opener broker.ChannelOpener
	cfg    PublisherConfig
	logger *slog.Logger

	mu sync.Mutex
	ch broker.Channel
}

// NewPublisher creates a publisher for cfg.Exchange. The channel is opened on first use or by Declare
func NewPublisher(opener broker.ChannelOpener, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Publisher{opener: opener, cfg: cfg, logger: logger}
}

// Publish sends ev, retrying with a fixed delay up to MaxRetries times after the first attempt
func (p *Publisher) Publish(ctx context.Context, ev DomainEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	routingKey := RoutingKey(p.cfg.Source, ev.Type)
	l := p.logger.With("routing_key", routingKey, "entity_id", ev.EntityID)

	attempts := 0
	var lastErr error

	for attempts < p.cfg.MaxRetries+1 {
		if attempts > 0 {
			metrics.EventsPublished.WithLabelValues(routingKey, "retry").Inc()
			if err := sleepCtx(ctx, p.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		lastErr = p.publishOnce(ctx, routingKey, body)
		if lastErr == nil {
			metrics.EventsPublished.WithLabelValues(routingKey, "sent").Inc()
			l.Debug("Event published", "attempt", attempts)
			return nil
		}

		l.Warn("Event publish attempt failed", "attempt", attempts, "max_attempts", p.cfg.MaxRetries+1, "error", lastErr)
	}

	metrics.EventsPublished.WithLabelValues(routingKey, "failed").Inc()
	return &PublishFailure{RoutingKey: routingKey, EntityID: ev.EntityID, Attempts: attempts, Err: lastErr}
}

// PublishBestEffort publishes ev and logs a terminal failure instead of returning it.
// The state change that produced ev stands either way; replicas may drift until the next event
func (p *Publisher) PublishBestEffort(ctx context.Context, ev DomainEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.Error("Event publication failed, state change kept", "entity_id", ev.EntityID, "type", ev.Type, "error", err)
	}
}

// Declare opens the publishing channel, declaring the exchange, without sending anything.
// The owning service calls it at startup so the exchange exists before the first event
func (p *Publisher) Declare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.channel()
	return err
}

// channel returns the shared confirm channel, opening it and declaring the exchange if needed
func (p *Publisher) channel() (broker.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		return p.ch, nil
	}
	ch, err := p.opener.ConfirmChannel()
	if err != nil {
		return nil, err
	}
	if err := broker.DeclareTopicExchange(ch, p.cfg.Exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}
	p.ch = ch
	return ch, nil
}

// discard forgets ch if it is still the shared channel
func (p *Publisher) discard(ch broker.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.ch = nil
	}
	ch.Close()
}

func (p *Publisher) publishOnce(ctx context.Context, routingKey string, body []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	// The confirm wait happens without p.mu held; concurrent events share the channel
	err = ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         routingKey,
		Body:         body,
	})
	if err != nil {
		// The channel may be dead; the next attempt opens a fresh one.
		// A canceled caller says nothing about the channel, so it stays
		if ctx.Err() == nil {
			p.discard(ch)
		}
		return err
	}
	return nil
}

// Close releases the publishing channel
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
