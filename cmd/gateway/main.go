package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/gateway"
	"github.com/Guizzs26/go-social-mesh/internal/health"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
	"github.com/Guizzs26/go-social-mesh/pkg/infra"
)

func main() {
	cfg := config.Load("gateway")
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	err := run(cfg, logger)
	if err != nil {
		logger.Error("FATAL: Gateway stopped", "error", err)
	}
	infra.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing API gateway...", "port", cfg.HTTPPort, "rpc_timeout", cfg.RPCTimeout)

	link := broker.NewLink(cfg.RabbitMQURL, logger)
	defer link.Close()
	go link.Run(ctx)

	client := rpc.NewClient(link, logger)
	go client.Run(ctx)

	monitor := health.NewMonitor(link, cfg.EventsExchange, cfg.HealthInterval, logger)
	go monitor.Run(ctx)
	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, monitor, logger)

	// Requests before the reply queue exists fail fast with 503, so startup does not block on the broker
	readyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := client.WaitReady(readyCtx); err != nil {
		logger.Warn("RPC client not ready yet, serving anyway", "error", err)
	}
	cancel()

	gw := gateway.New(
		rpc.NewStub(client, cfg.UserQueue.Name, cfg.RPCTimeout),
		rpc.NewStub(client, cfg.FeedQueue.Name, cfg.RPCTimeout),
		rpc.NewStub(client, cfg.CommunicationQueue.Name, cfg.RPCTimeout),
		logger,
	)

	if err := gw.Serve(ctx, cfg.HTTPPort); err != nil {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	logger.Info("Gateway shut down successfully")
	return nil
}
