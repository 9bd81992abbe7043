package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-social-mesh/internal/bootstrap"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/db"
	"github.com/Guizzs26/go-social-mesh/internal/feed"
	"github.com/Guizzs26/go-social-mesh/internal/processor"
	"github.com/Guizzs26/go-social-mesh/pkg/infra"
)

func main() {
	cfg := config.Load("feed")
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	err := run(cfg, logger)
	if err != nil {
		logger.Error("FATAL: Feed service stopped", "error", err)
	}
	infra.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing feed service...", "store", cfg.StoreDriver, "reference_queue", cfg.ReferenceQueue.Name)

	app, err := bootstrap.New(ctx, cfg, logger, db.ReferenceSchema, db.PostSchema, db.PostIndex)
	if err != nil {
		return fmt.Errorf("failed to prepare service: %w", err)
	}
	defer app.Close()

	refs := app.ReferenceStore()
	var posts feed.PostStore = feed.NewMemoryPostStore()
	if app.UsesPostgres() {
		posts = db.NewPostRepository(app.Pool)
	}

	replicator := processor.NewReferenceReplicator(refs, logger)
	app.Subscribe(replicator)

	feed.Register(app.Router, feed.NewService(posts, refs, replicator, logger))

	app.Run(ctx, cfg.FeedQueue)
	return nil
}
