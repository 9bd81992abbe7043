package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
)

// Applier consumes one decoded event. A returned error requeues the delivery
type Applier interface {
	Apply(ctx context.Context, ev DomainEvent) error
}

type ApplierFunc func(ctx context.Context, ev DomainEvent) error

func (f ApplierFunc) Apply(ctx context.Context, ev DomainEvent) error {
	return f(ctx, ev)
}

type SubscriberConfig struct {
	Exchange string
	Pattern  string
	Queue    config.Binding
	// RequeueDelay throttles redelivery of events the applier failed on
	RequeueDelay time.Duration
}

// Subscriber binds a durable queue to the events exchange and feeds every
// delivery to an Applier, one at a time
type Subscriber struct {
	opener  broker.ChannelOpener
	applier Applier
	cfg     SubscriberConfig
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber that feeds events from cfg.Queue into applier
func NewSubscriber(opener broker.ChannelOpener, applier Applier, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if cfg.Pattern == "" {
		cfg.Pattern = SourceUser + ".*"
	}
	return &Subscriber{opener: opener, applier: applier, cfg: cfg, logger: logger.With("queue", cfg.Queue.Name)}
}

// Run keeps the subscription alive until ctx is canceled
func (s *Subscriber) Run(ctx context.Context) {
	broker.Supervise(ctx, "subscriber:"+s.cfg.Queue.Name, s.logger, s.Listen)
}

// Listen declares the topology and consumes until ctx ends or the channel dies
func (s *Subscriber) Listen(ctx context.Context) error {
	ch, err := s.opener.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(s.cfg.Queue.PrefetchOrDefault(), 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := broker.DeclareTopicExchange(ch, s.cfg.Exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(s.cfg.Queue.Name, s.cfg.Queue.Durable, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, s.cfg.Pattern, s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	s.logger.Info("Subscriber is online and waiting for events", "routing_key", s.cfg.Pattern)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return broker.ErrDeliveriesClosed
			}

			ev, err := Decode(d.Body)
			if err != nil {
				s.logger.Error("Dropping malformed event", "routing_key", d.RoutingKey, "error", err)
				metrics.EventsApplied.WithLabelValues("unknown", "malformed").Inc()
				d.Nack(false, false)
				continue
			}

			l := s.logger.With("type", ev.Type, "entity_id", ev.EntityID)

			if err := s.applier.Apply(ctx, ev); err != nil {
				l.Error("Applying event failed, requeueing", "error", err, "redelivered", d.Redelivered)
				metrics.EventsApplied.WithLabelValues(string(ev.Type), "requeued").Inc()
				if sleepCtx(ctx, s.cfg.RequeueDelay) != nil {
					// Shutting down: the broker redelivers unacked messages on its own
					return nil
				}
				d.Nack(false, true)
				continue
			}

			metrics.EventsApplied.WithLabelValues(string(ev.Type), "applied").Inc()
			if err := d.Ack(false); err != nil {
				l.Error("Failed to ack event", "error", err)
			}
		}
	}
}
