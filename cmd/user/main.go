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
	"github.com/Guizzs26/go-social-mesh/internal/user"
	"github.com/Guizzs26/go-social-mesh/pkg/infra"
)

func main() {
	cfg := config.Load("user")
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	err := run(cfg, logger)
	if err != nil {
		logger.Error("FATAL: User service stopped", "error", err)
	}
	infra.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing user service...", "store", cfg.StoreDriver)

	app, err := bootstrap.New(ctx, cfg, logger, db.UserSchema)
	if err != nil {
		return fmt.Errorf("failed to prepare service: %w", err)
	}
	defer app.Close()

	var store user.Store = user.NewMemoryStore()
	if app.UsesPostgres() {
		store = db.NewUserRepository(app.Pool)
	}

	// Token revocation lives in Redis so every replica sees the same blacklist
	rdb, err := user.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	defer rdb.Close()

	publisher := app.Publisher()
	defer publisher.Close()

	svc := user.NewService(
		store,
		publisher,
		user.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		user.NewRedisBlacklist(rdb),
		logger,
	)
	user.Register(app.Router, svc)

	app.Run(ctx, cfg.UserQueue)
	return nil
}
