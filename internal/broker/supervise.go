package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-social-mesh/pkg/infra"
)

// stableSession is how long a role must run before a failure is treated as fresh rather than a crash loop
const stableSession = 30 * time.Second

// Supervise runs fn until ctx is canceled, restarting it with backoff whenever it returns.
// fn is expected to open its own channels and return when they die
func Supervise(ctx context.Context, name string, logger *slog.Logger, fn func(ctx context.Context) error) {
	backoff := infra.NewBackoff(500*time.Millisecond, 30*time.Second, 2.0)

	for {
		started := time.Now()
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > stableSession {
			backoff.Reset()
		}

		logger.Warn("Broker role stopped, restarting", "role", name, "attempt", backoff.Attempts()+1, "error", err)
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}
