package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/broker/brokertest"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
)

func TestMapDomainErrors(t *testing.T) {
	r := rpc.NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	MapDomainErrors(r)

	cases := map[error]string{
		models.ErrNotFound:      rpc.CodeNotFound,
		models.ErrAlreadyExists: rpc.CodeConflict,
		models.ErrInvalidInput:  rpc.CodeBadRequest,
		models.ErrUnauthorized:  rpc.CodeUnauthorized,
	}
	for target, code := range cases {
		command := "Fail" + code
		r.Register(command, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, fmt.Errorf("while handling: %w", target)
		})
		reply := r.Dispatch(context.Background(), command, nil)
		if reply.Error == nil || reply.Error.Code != code {
			t.Fatalf("%v: expected %s, got %+v", target, code, reply.Error)
		}
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{StoreDriver: "cassandra", EventsExchange: "user.events"}
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMemoryDriverNeedsNoDatabase(t *testing.T) {
	cfg := &config.Config{StoreDriver: DriverMemory, EventsExchange: "user.events"}
	app, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer app.Close()
	if app.UsesPostgres() {
		t.Fatalf("memory driver must not open a pool")
	}
	if app.ReferenceStore() == nil {
		t.Fatalf("expected a reference store")
	}
}

func TestEventOwnerIsHealthyBeforeFirstEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{StoreDriver: DriverMemory, EventsExchange: "user.events", HealthInterval: time.Second}
	b := brokertest.New()
	app := newApp(cfg, logger, broker.NewLink("amqp://unused", logger), b)

	publisher := app.Publisher()
	defer publisher.Close()
	for _, task := range app.tasks {
		go task(ctx)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st := app.Health.IsHealthy(ctx)
		if st.Up {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected healthy without any event published, last status %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(b.Published()); n != 0 {
		t.Fatalf("declaring the exchange must not publish, got %d messages", n)
	}
}
