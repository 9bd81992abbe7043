// Package seed drives the one-shot bulk seeding run: users first, then their
// references into every dependent service.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
)

// ErrExportMismatch means the user service exported a different set of users than it just created
var ErrExportMismatch = errors.New("exported users do not match the seeded users")

type State int

const (
	SeedingUsers State = iota
	ExportingUsers
	DistributingReferences
	Done
)

func (s State) String() string {
	switch s {
	case SeedingUsers:
		return "SeedingUsers"
	case ExportingUsers:
		return "ExportingUsers"
	case DistributingReferences:
		return "DistributingReferences"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Invoker sends one command to a fixed service. *rpc.Stub satisfies it
type Invoker interface {
	Invoke(ctx context.Context, command string, payload, out any) error
}

// Target is a service that receives the exported references
type Target struct {
	Name    string
	Service Invoker
}

// PhaseError aborts the run. Nothing done by earlier phases is rolled back
type PhaseError struct {
	State  State
	Target string
	Err    error
}

func (e *PhaseError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("seed aborted in %s (%s): %v", e.State, e.Target, e.Err)
	}
	return fmt.Sprintf("seed aborted in %s: %v", e.State, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Report summarizes a run, successful or not
type Report struct {
	State       State
	Created     int
	Exported    int
	Distributed map[string]int
	Duration    time.Duration
}

type Coordinator struct {
	users   Invoker
	targets []Target
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator that seeds users and then every target, in order
func NewCoordinator(users Invoker, targets []Target, logger *slog.Logger) *Coordinator {
	return &Coordinator{users: users, targets: targets, logger: logger}
}

// Run executes the phases strictly in order. The first error stops the run
func (c *Coordinator) Run(ctx context.Context, count int) (Report, error) {
	start := time.Now()
	report := Report{Distributed: make(map[string]int, len(c.targets))}

	fail := func(target string, err error) (Report, error) {
		report.Duration = time.Since(start)
		c.logger.Error("Seed run aborted", "state", report.State.String(), "target", target, "error", err)
		return report, &PhaseError{State: report.State, Target: target, Err: err}
	}

	if count <= 0 {
		return fail("", fmt.Errorf("%w: count must be positive, got %d", models.ErrInvalidInput, count))
	}

	c.enter(&report, SeedingUsers)
	var seeded models.SeedUsersResponse
	if err := c.users.Invoke(ctx, models.SeedUsersCommand, models.SeedUsersRequest{Count: count}, &seeded); err != nil {
		return fail("user", err)
	}
	report.Created = seeded.Created
	c.logger.Info("Users seeded", "created", seeded.Created)

	c.enter(&report, ExportingUsers)
	var exported models.ExportUsersResponse
	if err := c.users.Invoke(ctx, models.ExportUsersCommand, models.ExportUsersRequest{IDs: seeded.IDs}, &exported); err != nil {
		return fail("user", err)
	}
	report.Exported = len(exported.Users)
	if err := sameUsers(seeded.IDs, exported.Users); err != nil {
		return fail("user", err)
	}
	c.logger.Info("Users exported", "count", report.Exported)

	c.enter(&report, DistributingReferences)
	for _, t := range c.targets {
		var res models.SeedReferencesResponse
		req := models.SeedReferencesRequest{References: exported.Users}
		if err := t.Service.Invoke(ctx, models.SeedReferencesCommand, req, &res); err != nil {
			return fail(t.Name, err)
		}
		report.Distributed[t.Name] = res.Applied
		c.logger.Info("References distributed", "target", t.Name, "applied", res.Applied)
	}

	c.enter(&report, Done)
	report.Duration = time.Since(start)
	c.logger.Info("Seed run finished", "created", report.Created, "exported", report.Exported, "duration", report.Duration)
	return report, nil
}

func (c *Coordinator) enter(r *Report, s State) {
	r.State = s
	metrics.SeedPhase.Set(float64(s))
	c.logger.Debug("Seed phase", "state", s.String())
}

// sameUsers checks that refs holds exactly the users in ids, each once
func sameUsers(ids []string, refs []models.UserReference) error {
	if len(ids) != len(refs) {
		return fmt.Errorf("%w: seeded %d, exported %d", ErrExportMismatch, len(ids), len(refs))
	}
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	for _, ref := range refs {
		if _, ok := pending[ref.ID]; !ok {
			return fmt.Errorf("%w: unexpected user %s", ErrExportMismatch, ref.ID)
		}
		delete(pending, ref.ID)
	}
	return nil
}
