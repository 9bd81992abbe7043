// Package processor applies user lifecycle events to the local reference table of a consuming service.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/events"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/pkg/encoding"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"

	"github.com/jackc/pgx/v5/pgconn"
)

const maxStoreAttempts = 3

// ReferenceReplicator keeps a consuming service's user references in line with user events.
// Fields are merged in arrival order; the event timestamp only dates soft deletes
type ReferenceReplicator struct {
	store  ReferenceStore
	logger *slog.Logger
}

// NewReferenceReplicator creates a replicator applying user events to store
func NewReferenceReplicator(store ReferenceStore, logger *slog.Logger) *ReferenceReplicator {
	return &ReferenceReplicator{store: store, logger: logger}
}

// Apply is safe to call repeatedly with the same event
func (r *ReferenceReplicator) Apply(ctx context.Context, ev events.DomainEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	l := r.logger.With("entity_id", ev.EntityID, "type", ev.Type)

	var lastErr error
	for attempt := 1; attempt <= maxStoreAttempts; attempt++ {
		var outcome string
		err := r.store.Mutate(ctx, ev.EntityID, func(cur *models.UserReference) *models.UserReference {
			next, what := transition(cur, ev)
			outcome = what
			return next
		})
		if err == nil {
			l.Debug("Reference event applied", "outcome", outcome)
			return nil
		}

		if !isTransient(err) {
			return fmt.Errorf("failed to apply %s for %s: %w", ev.Type, ev.EntityID, err)
		}

		lastErr = err
		metrics.ReplicatorRetries.Inc()

		// Linear backoff: 200ms, 400ms
		backoff := time.Duration(attempt) * 200 * time.Millisecond
		l.Warn("Reference store contention, retrying", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed after %d attempts (last error: %w)", maxStoreAttempts, lastErr)
}

// Seed bulk-loads references exported by the user service. Existing rows are overwritten
func (r *ReferenceReplicator) Seed(ctx context.Context, refs []models.UserReference) (int, error) {
	now := time.Now().UTC()
	clean := make([]models.UserReference, 0, len(refs))

	for _, ref := range refs {
		if ref.ID == "" {
			return 0, fmt.Errorf("%w: reference without id", models.ErrInvalidInput)
		}
		ref.Username = encoding.NormalizeDisplay(ref.Username)
		ref.Email = encoding.NormalizeEmail(ref.Email)
		ref.ProfileImageURL = encoding.NormalizeDisplay(ref.ProfileImageURL)
		ref.Deleted = false
		ref.DeletedAt = nil
		if ref.UpdatedAt.IsZero() {
			ref.UpdatedAt = now
		}
		clean = append(clean, ref)
	}

	if len(clean) == 0 {
		return 0, nil
	}
	if err := r.store.UpsertMany(ctx, clean); err != nil {
		return 0, fmt.Errorf("failed to seed references: %w", err)
	}

	r.logger.Info("References seeded", "count", len(clean))
	return len(clean), nil
}

// transition computes the next state of a reference. A nil result means nothing changes
func transition(cur *models.UserReference, ev events.DomainEvent) (*models.UserReference, string) {
	if cur == nil {
		if ev.Type == events.Deleted {
			return nil, "ignored_unknown"
		}
		next := &models.UserReference{ID: ev.EntityID}
		merge(next, ev)
		return next, "created"
	}

	next := *cur
	if ev.Type == events.Deleted {
		if cur.Deleted && cur.DeletedAt != nil && cur.DeletedAt.Equal(ev.Timestamp) {
			return nil, "unchanged"
		}
		at := ev.Timestamp.UTC()
		next.Deleted = true
		next.DeletedAt = &at
		next.UpdatedAt = at
		return &next, "soft_deleted"
	}

	merge(&next, ev)
	if sameState(cur, &next) {
		return nil, "unchanged"
	}
	return &next, "merged"
}

func merge(ref *models.UserReference, ev events.DomainEvent) {
	if v, ok := ev.Fields[events.FieldUsername]; ok {
		ref.Username = encoding.NormalizeDisplay(v)
	}
	if v, ok := ev.Fields[events.FieldEmail]; ok {
		ref.Email = encoding.NormalizeEmail(v)
	}
	if v, ok := ev.Fields[events.FieldProfileImageURL]; ok {
		ref.ProfileImageURL = encoding.NormalizeDisplay(v)
	}
	ref.UpdatedAt = ev.Timestamp.UTC()
}

func sameState(a, b *models.UserReference) bool {
	return a.Username == b.Username &&
		a.Email == b.Email &&
		a.ProfileImageURL == b.ProfileImageURL &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// isTransient detects PostgreSQL serialization failures and deadlocks
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
