package seed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker/brokertest"
	"github.com/Guizzs26/go-social-mesh/internal/config"
	"github.com/Guizzs26/go-social-mesh/internal/events"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
	"github.com/Guizzs26/go-social-mesh/internal/user"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type referenceSink struct {
	mu      sync.Mutex
	batches [][]models.UserReference
}

func (s *referenceSink) handler(ctx context.Context, req models.SeedReferencesRequest) (models.SeedReferencesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, req.References)
	return models.SeedReferencesResponse{Applied: len(req.References)}, nil
}

func (s *referenceSink) received() [][]models.UserReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]models.UserReference(nil), s.batches...)
}

func serve(t *testing.T, ctx context.Context, b *brokertest.Broker, queue string, register func(r *rpc.Router)) {
	t.Helper()
	r := rpc.NewRouter(discardLogger())
	register(r)
	go r.Run(ctx, b, config.Binding{Name: queue, Durable: true, Prefetch: 4})

	deadline := time.Now().Add(2 * time.Second)
	for b.ConsumerCount(queue) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("router on %s never started", queue)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type discardPublisher struct{}

func (discardPublisher) PublishBestEffort(ctx context.Context, ev events.DomainEvent) {}

func TestRunDistributesEveryExportedUserOncePerTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := brokertest.New()

	users := user.NewService(user.NewMemoryStore(), discardPublisher{}, user.NewTokenIssuer("seed-secret", time.Hour), nil, discardLogger())
	// Accounts that exist before the run must not be distributed
	if _, err := users.Create(ctx, models.CreateUserRequest{Username: "alice", Email: "alice@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	serve(t, ctx, b, "user.rpc", func(r *rpc.Router) { user.Register(r, users) })

	feed, comm := &referenceSink{}, &referenceSink{}
	serve(t, ctx, b, "feed.rpc", func(r *rpc.Router) { r.Register(models.SeedReferencesCommand, rpc.Handle(feed.handler)) })
	serve(t, ctx, b, "communication.rpc", func(r *rpc.Router) { r.Register(models.SeedReferencesCommand, rpc.Handle(comm.handler)) })

	client := rpc.NewClient(b, discardLogger())
	go client.Run(ctx)
	if err := client.WaitReady(ctx); err != nil {
		t.Fatalf("client: %v", err)
	}

	c := NewCoordinator(rpc.NewStub(client, "user.rpc", 5*time.Second), []Target{
		{Name: "feed", Service: rpc.NewStub(client, "feed.rpc", time.Second)},
		{Name: "communication", Service: rpc.NewStub(client, "communication.rpc", time.Second)},
	}, discardLogger())

	report, err := c.Run(ctx, 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.State != Done || report.Created != 5 || report.Exported != 5 {
		t.Fatalf("unexpected report %+v", report)
	}

	for name, sink := range map[string]*referenceSink{"feed": feed, "communication": comm} {
		batches := sink.received()
		if len(batches) != 1 {
			t.Fatalf("%s: expected exactly one seed command, got %d", name, len(batches))
		}
		if len(batches[0]) != 5 {
			t.Fatalf("%s: expected 5 references, got %d", name, len(batches[0]))
		}
		for _, ref := range batches[0] {
			if ref.Username == "alice" {
				t.Fatalf("%s: pre-existing user was distributed", name)
			}
		}
		if report.Distributed[name] != 5 {
			t.Fatalf("%s: report says %d applied", name, report.Distributed[name])
		}
	}
}

// leakyUsers seeds two users but exports a third one as well
type leakyUsers struct{}

func (leakyUsers) Invoke(ctx context.Context, command string, payload, out any) error {
	switch res := out.(type) {
	case *models.SeedUsersResponse:
		*res = models.SeedUsersResponse{Created: 2, IDs: []string{"a", "b"}}
	case *models.ExportUsersResponse:
		*res = models.ExportUsersResponse{Users: []models.UserReference{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	}
	return nil
}

func TestRunFailsWhenExportDiffersFromSeed(t *testing.T) {
	feed := &scripted{}
	c := NewCoordinator(leakyUsers{}, []Target{{Name: "feed", Service: feed}}, discardLogger())

	report, err := c.Run(context.Background(), 2)
	if !errors.Is(err, ErrExportMismatch) {
		t.Fatalf("expected ErrExportMismatch, got %v", err)
	}
	if report.State != ExportingUsers || report.Exported != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(feed.calls) != 0 {
		t.Fatalf("no references may be distributed after a mismatched export")
	}
}

type scripted struct {
	calls []string
	fail  map[string]error
}

func (s *scripted) Invoke(ctx context.Context, command string, payload, out any) error {
	s.calls = append(s.calls, command)
	return s.fail[command]
}

func TestRunFailsClosed(t *testing.T) {
	boom := errors.New("export exploded")
	users := &scripted{fail: map[string]error{models.ExportUsersCommand: boom}}
	feed := &scripted{}

	c := NewCoordinator(users, []Target{{Name: "feed", Service: feed}}, discardLogger())
	report, err := c.Run(context.Background(), 3)

	var pe *PhaseError
	if !errors.As(err, &pe) || pe.State != ExportingUsers || !errors.Is(err, boom) {
		t.Fatalf("expected PhaseError in ExportingUsers, got %v", err)
	}
	if report.State != ExportingUsers {
		t.Fatalf("report should carry the failed state, got %s", report.State)
	}
	if len(feed.calls) != 0 {
		t.Fatalf("no references may be distributed after a failed phase")
	}
}

func TestRunStopsAtFirstFailingTarget(t *testing.T) {
	users := &scripted{}
	feed := &scripted{fail: map[string]error{models.SeedReferencesCommand: rpc.ErrTimeout}}
	comm := &scripted{}

	c := NewCoordinator(users, []Target{{Name: "feed", Service: feed}, {Name: "communication", Service: comm}}, discardLogger())
	_, err := c.Run(context.Background(), 1)

	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Target != "feed" || pe.State != DistributingReferences {
		t.Fatalf("unexpected error %v", err)
	}
	if len(comm.calls) != 0 {
		t.Fatalf("later targets must not be seeded after a failure")
	}
}

func TestRunRejectsNonPositiveCount(t *testing.T) {
	users := &scripted{}
	c := NewCoordinator(users, nil, discardLogger())
	if _, err := c.Run(context.Background(), 0); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(users.calls) != 0 {
		t.Fatalf("no command may be sent for an invalid count")
	}
}
