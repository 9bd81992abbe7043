// Package bootstrap assembles the pieces every service process shares: the broker
// link, the command router, the health monitor and the observability server.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/db"
	"github.com/Guizzs26/go-social-mesh/internal/events"
	"github.com/Guizzs26/go-social-mesh/internal/health"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/processor"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
	"github.com/Guizzs26/go-social-mesh/pkg/infra"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MapDomainErrors makes the shared domain errors travel with their own reply codes
func MapDomainErrors(r *rpc.Router) {
	r.MapError(models.ErrNotFound, rpc.CodeNotFound)
	r.MapError(models.ErrAlreadyExists, rpc.CodeConflict)
	r.MapError(models.ErrInvalidInput, rpc.CodeBadRequest)
	r.MapError(models.ErrUnauthorized, rpc.CodeUnauthorized)
}

// App is one running service process
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Link   *broker.Link
	Router *rpc.Router
	Health *health.Monitor
	Pool   *pgxpool.Pool

	// opener hands out channels; the Link in production
	opener broker.ChannelOpener
	tasks  []func(ctx context.Context)
}

// New prepares the process. With the postgres driver it also opens the pool and applies schema
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, schema ...string) (*App, error) {
	link := broker.NewLink(cfg.RabbitMQURL, logger)
	app := newApp(cfg, logger, link, link)

	switch cfg.StoreDriver {
	case DriverMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
	case DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool, schema...); err != nil {
			pool.Close()
			return nil, err
		}
		app.Pool = pool
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return app, nil
}

func newApp(cfg *config.Config, logger *slog.Logger, link *broker.Link, opener broker.ChannelOpener) *App {
	router := rpc.NewRouter(logger)
	MapDomainErrors(router)

	return &App{
		Config: cfg,
		Logger: logger,
		Link:   link,
		Router: router,
		Health: health.NewMonitor(opener, cfg.EventsExchange, cfg.HealthInterval, logger),
		opener: opener,
	}
}

// UsesPostgres reports whether repositories should be backed by the pool
func (a *App) UsesPostgres() bool {
	return a.Pool != nil
}

// ReferenceStore returns the user reference store for the configured driver
func (a *App) ReferenceStore() processor.ReferenceStore {
	if a.UsesPostgres() {
		return db.NewReferenceRepository(a.Pool)
	}
	return processor.NewMemoryReferenceStore()
}

// Publisher returns an event publisher for the user events exchange. The process owns that
// exchange, so Run declares it as soon as the broker is reachable instead of on the first event
func (a *App) Publisher() *events.Publisher {
	p := events.NewPublisher(a.opener, events.PublisherConfig{
		Exchange:   a.Config.EventsExchange,
		Source:     events.SourceUser,
		MaxRetries: a.Config.PublishMaxRetries,
		RetryDelay: a.Config.PublishRetryDelay,
	}, a.Logger)
	a.Go(func(ctx context.Context) { a.declare(ctx, p) })
	return p
}

func (a *App) declare(ctx context.Context, p *events.Publisher) {
	backoff := infra.NewBackoff(500*time.Millisecond, 30*time.Second, 2.0)
	for {
		err := p.Declare(ctx)
		if err == nil {
			a.Logger.Info("Events exchange declared", "exchange", a.Config.EventsExchange)
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.Logger.Warn("Events exchange not declared yet, retrying", "exchange", a.Config.EventsExchange, "attempt", backoff.Attempts()+1, "error", err)
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

// Subscribe consumes user events into the replicator on the service's reference queue
func (a *App) Subscribe(replicator *processor.ReferenceReplicator) {
	sub := events.NewSubscriber(a.opener, replicator, events.SubscriberConfig{
		Exchange:     a.Config.EventsExchange,
		Queue:        a.Config.ReferenceQueue,
		RequeueDelay: a.Config.RequeueDelay,
	}, a.Logger)
	a.Go(sub.Run)
}

// Go registers a background task started by Run
func (a *App) Go(task func(ctx context.Context)) {
	a.tasks = append(a.tasks, task)
}

// Run serves commands on binding until ctx is canceled, then releases everything it owns
func (a *App) Run(ctx context.Context, binding config.Binding) {
	defer a.Close()

	var wg sync.WaitGroup
	start := func(task func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx)
		}()
	}

	start(a.Link.Run)
	start(a.Health.Run)
	start(func(ctx context.Context) {
		infra.StartObservabilityServer(ctx, a.Config.MetricsPort, a.Health, a.Logger)
	})
	start(func(ctx context.Context) {
		a.Router.Run(ctx, a.opener, binding)
	})
	for _, task := range a.tasks {
		start(task)
	}

	a.Logger.Info("Service online", "queue", binding.Name, "prefetch", binding.PrefetchOrDefault(), "commands", a.Router.Commands())

	<-ctx.Done()
	a.Logger.Info("Shutdown signal received, draining")
	wg.Wait()
	a.Logger.Info("Shutdown complete")
}

func (a *App) Close() {
	a.Link.Close()
	if a.Pool != nil {
		a.Pool.Close()
	}
}
