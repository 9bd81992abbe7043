package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
	"github.com/Guizzs26/go-social-mesh/internal/seed"
	"github.com/Guizzs26/go-social-mesh/pkg/infra"
)

func main() {
	cfg := config.Load("seed")
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, logger, os.Args[1:])
	stop()
	if err != nil {
		logger.Error("Seeding failed", "error", err)
	}
	infra.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := flags.Int("count", cfg.SeedCount, "number of users to create")
	timeout := flags.Duration("timeout", 2*time.Minute, "per-command timeout for the bulk calls")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *count <= 0 {
		return fmt.Errorf("%w: -count must be positive, got %d", models.ErrInvalidInput, *count)
	}

	link := broker.NewLink(cfg.RabbitMQURL, logger)
	defer link.Close()
	go link.Run(ctx)

	client := rpc.NewClient(link, logger)
	go client.Run(ctx)

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := client.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("broker not reachable: %w", err)
	}

	coordinator := seed.NewCoordinator(
		rpc.NewStub(client, cfg.UserQueue.Name, *timeout),
		[]seed.Target{
			{Name: "feed", Service: rpc.NewStub(client, cfg.FeedQueue.Name, *timeout)},
			{Name: "communication", Service: rpc.NewStub(client, cfg.CommunicationQueue.Name, *timeout)},
		},
		logger,
	)

	report, err := coordinator.Run(ctx, *count)
	if err != nil {
		return fmt.Errorf("run stopped in %s: %w", report.State, err)
	}
	logger.Info("Seeding finished", "created", report.Created, "exported", report.Exported, "distributed", report.Distributed, "duration", report.Duration)
	return nil
}
