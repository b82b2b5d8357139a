// Package observability — metrics.go
//
// Prometheus metrics for the tier1-agent anomaly-detection service.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: tier1_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Detector/severity labels use small fixed enums.
//   - Entity hash is NEVER used as a label (unbounded cardinality).

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for tier1-agent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Shard pipeline ───────────────────────────────────────────────────────

	// EventsProcessedTotal counts events consumed off the shard queues.
	EventsProcessedTotal prometheus.Counter

	// EventsDroppedTotal counts events dropped due to a full shard queue
	// and signals dropped due to a full shard output channel.
	EventsDroppedTotal prometheus.Counter

	// ShardQueueDepth is the current in-memory per-shard queue depth.
	// Labels: shard (shard index as a string)
	ShardQueueDepth *prometheus.GaugeVec

	// ─── Detectors / signal ───────────────────────────────────────────────────

	// AnomalyScoreHistogram records the distribution of ensemble scores.
	AnomalyScoreHistogram prometheus.Histogram

	// DetectorFiredTotal counts how often each detector fires.
	// Labels: detector
	DetectorFiredTotal *prometheus.CounterVec

	// SignalsEmittedTotal counts anomaly signals emitted, by severity.
	// Labels: severity
	SignalsEmittedTotal *prometheus.CounterVec

	// ─── Profiles / registry ──────────────────────────────────────────────────

	// ActiveProfiles is the current number of resident entity profiles.
	ActiveProfiles prometheus.Gauge

	// ProfileEvictionsTotal counts registry evictions.
	ProfileEvictionsTotal prometheus.Counter

	// ─── Policy ────────────────────────────────────────────────────────────────

	// PolicyInstallsTotal counts policy snapshot installs.
	PolicyInstallsTotal prometheus.Counter

	// PolicyRollbacksTotal counts policy rollbacks.
	PolicyRollbacksTotal prometheus.Counter

	// PolicySuppressionsTotal counts signals suppressed by policy.
	PolicySuppressionsTotal prometheus.Counter

	// ─── Feedback ──────────────────────────────────────────────────────────────

	// FeedbackReceivedTotal counts feedback events received.
	FeedbackReceivedTotal prometheus.Counter

	// FeedbackDroppedTotal counts feedback events dropped (channel full).
	FeedbackDroppedTotal prometheus.Counter

	// EnsembleF1Score tracks the ensemble's rolling F1 score from feedback.
	EnsembleF1Score prometheus.Gauge

	// ─── Forwarder ─────────────────────────────────────────────────────────────

	// ForwarderBatchesSentTotal counts signal batches sent to Tier-2.
	ForwarderBatchesSentTotal prometheus.Counter

	// ForwarderRetriesTotal counts forwarder retry attempts.
	ForwarderRetriesTotal prometheus.Counter

	// ForwarderLatency records Tier-2 POST round-trip latency.
	ForwarderLatency prometheus.Histogram

	// ─── Checkpoint ────────────────────────────────────────────────────────────

	// CheckpointsTotal counts successful checkpoints created.
	CheckpointsTotal prometheus.Counter

	// CheckpointSizeBytes tracks the last checkpoint's serialized size.
	CheckpointSizeBytes prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all tier1-agent Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "shard",
			Name:      "events_processed_total",
			Help:      "Total events consumed off the shard queues.",
		}),

		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "shard",
			Name:      "events_dropped_total",
			Help:      "Total events dropped due to a full shard queue or shard output channel.",
		}),

		ShardQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tier1",
			Subsystem: "shard",
			Name:      "queue_depth",
			Help:      "Current depth of each shard's in-memory event queue.",
		}, []string{"shard"}),

		AnomalyScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tier1",
			Subsystem: "ensemble",
			Name:      "score",
			Help:      "Distribution of combined ensemble anomaly scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.75, 0.9, 1.0},
		}),

		DetectorFiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "detectors",
			Name:      "fired_total",
			Help:      "Total times each detector fired, by detector name.",
		}, []string{"detector"}),

		SignalsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "signal",
			Name:      "emitted_total",
			Help:      "Total anomaly signals emitted, by severity.",
		}, []string{"severity"}),

		ActiveProfiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tier1",
			Subsystem: "registry",
			Name:      "active_profiles",
			Help:      "Current number of resident entity profiles.",
		}),

		ProfileEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "registry",
			Name:      "evictions_total",
			Help:      "Total profile evictions due to capacity pressure.",
		}),

		PolicyInstallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "policy",
			Name:      "installs_total",
			Help:      "Total policy snapshots installed.",
		}),

		PolicyRollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "policy",
			Name:      "rollbacks_total",
			Help:      "Total policy rollbacks performed.",
		}),

		PolicySuppressionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "policy",
			Name:      "suppressions_total",
			Help:      "Total signals suppressed by an active policy rule.",
		}),

		FeedbackReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "feedback",
			Name:      "received_total",
			Help:      "Total feedback events received from Tier-2.",
		}),

		FeedbackDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "feedback",
			Name:      "dropped_total",
			Help:      "Total feedback events dropped due to a full feedback channel.",
		}),

		EnsembleF1Score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tier1",
			Subsystem: "feedback",
			Name:      "ensemble_f1_score",
			Help:      "Rolling F1 score of the ensemble's anomaly decisions.",
		}),

		ForwarderBatchesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "forwarder",
			Name:      "batches_sent_total",
			Help:      "Total signal batches sent to Tier-2.",
		}),

		ForwarderRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "forwarder",
			Name:      "retries_total",
			Help:      "Total forwarder retry attempts after a failed send.",
		}),

		ForwarderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tier1",
			Subsystem: "forwarder",
			Name:      "latency_seconds",
			Help:      "Tier-2 POST round-trip latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tier1",
			Subsystem: "checkpoint",
			Name:      "created_total",
			Help:      "Total checkpoints successfully created.",
		}),

		CheckpointSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tier1",
			Subsystem: "checkpoint",
			Name:      "size_bytes",
			Help:      "Serialized size of the most recent checkpoint.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tier1",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.EventsProcessedTotal,
		m.EventsDroppedTotal,
		m.ShardQueueDepth,
		m.AnomalyScoreHistogram,
		m.DetectorFiredTotal,
		m.SignalsEmittedTotal,
		m.ActiveProfiles,
		m.ProfileEvictionsTotal,
		m.PolicyInstallsTotal,
		m.PolicyRollbacksTotal,
		m.PolicySuppressionsTotal,
		m.FeedbackReceivedTotal,
		m.FeedbackDroppedTotal,
		m.EnsembleF1Score,
		m.ForwarderBatchesSentTotal,
		m.ForwarderRetriesTotal,
		m.ForwarderLatency,
		m.CheckpointsTotal,
		m.CheckpointSizeBytes,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
