package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCalls tracks client side command calls by outcome (ok, handler_error, timeout, transport_error, canceled)
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_client_calls_total",
		Help: "Total number of RPC commands sent by this process",
	}, []string{"command", "outcome"})

	// RPCCallDuration measures the time a caller waited for its reply
	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_client_call_duration_seconds",
		Help:    "Time from publishing a command to receiving its reply",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"command"})

	// RPCPending is the number of calls currently waiting for a reply
	// It must return to zero when traffic stops; growth means leaked correlation entries
	RPCPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_client_pending_calls",
		Help: "Number of in-flight RPC calls awaiting a reply",
	})

	// RPCHandled tracks server side dispatch results
	RPCHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_server_commands_total",
		Help: "Total number of commands dispatched by the command router",
	}, []string{"command", "status"}) // status: ok, error, unknown, panic

	RPCHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_server_handler_duration_seconds",
		Help:    "Time spent inside command handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// EventsPublished tracks domain event publication results per routing key
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of domain events published",
	}, []string{"routing_key", "status"}) // status: sent, retry, failed

	// EventsApplied tracks the reference replicator throughput
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_applied_total",
		Help: "Total number of domain events applied to local references",
	}, []string{"type", "status"}) // status: created, merged, deleted, ignored, error, malformed

	// ReplicatorRetries counts internal retries caused by transient store errors
	ReplicatorRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replicator_store_retries_total",
		Help: "Number of internal retries triggered by serialization failures or deadlocks",
	})

	// BrokerReconnections counts how many times the process had to restore its broker link
	BrokerReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_reconnections_total",
		Help: "Total number of broker reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for broker reachability
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_healthy",
		Help: "Current broker health (1 for healthy, 0 for unhealthy)",
	})

	// BlacklistFailOpen counts requests let through because the revocation check could not complete
	BlacklistFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_blacklist_fail_open_total",
		Help: "Requests allowed because the token blacklist check failed",
	})

	// SeedPhase exposes the current seed coordinator state as an ordinal (0..3)
	SeedPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seed_phase",
		Help: "Current seed coordinator phase",
	})
)
