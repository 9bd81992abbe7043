// Package health reports whether the broker and the events exchange are reachable.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/pkg/metrics"
)

// Status is the outcome of one probe. It lives only as long as the process
type Status struct {
	Up        bool      `json:"up"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// Monitor probes the events exchange with a passive declare on a short-lived channel
type Monitor struct {
	opener   broker.ChannelOpener
	exchange string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last Status
}

// NewMonitor creates a monitor that probes exchange every interval. Its status starts down
func NewMonitor(opener broker.ChannelOpener, exchange string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		opener:   opener,
		exchange: exchange,
		interval: interval,
		timeout:  3 * time.Second,
		logger:   logger,
		last:     Status{Error: "not checked yet"},
	}
}

// IsHealthy runs one probe. Failures are reported in the returned Status, never as a panic
func (m *Monitor) IsHealthy(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("health probe panicked: %v", r)
			}
		}()
		done <- m.probe()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("health probe timed out: %w", ctx.Err())
	}

	st := Status{Up: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}
	m.record(st)
	return st
}

func (m *Monitor) probe() error {
	ch, err := m.opener.Channel()
	if err != nil {
		return err
	}
	// A failed passive declare closes the channel on the broker side; Close stays harmless
	defer ch.Close()

	return ch.ExchangeDeclarePassive(m.exchange, broker.ExchangeTopic, true, false, false, false, nil)
}

func (m *Monitor) record(st Status) {
	m.mu.Lock()
	prev := m.last
	m.last = st
	m.mu.Unlock()

	if st.Up {
		metrics.HealthStatus.Set(1)
	} else {
		metrics.HealthStatus.Set(0)
	}

	if prev.Up != st.Up {
		if st.Up {
			m.logger.Info("Broker health restored", "exchange", m.exchange)
		} else {
			m.logger.Warn("Broker health check failing", "exchange", m.exchange, "error", st.Error)
		}
	}
}

// Status returns the result of the latest probe without probing again
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run polls on its own ticker until ctx is canceled
func (m *Monitor) Run(ctx context.Context) {
	m.IsHealthy(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.IsHealthy(ctx)
		}
	}
}

// ServeHTTP answers readiness probes with the latest status: 200 when up, 503 otherwise
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := m.Status()

	w.Header().Set("Content-Type", "application/json")
	if st.Up {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}
