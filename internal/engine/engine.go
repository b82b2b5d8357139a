// Package engine — engine.go
//
// Top-level wiring for tier1-agent: the shard pipeline, profile registry,
// policy runtime, feedback loop, checkpoint manager, and Tier-2 forwarder,
// all bound together into one lifecycle the entrypoint can start and
// stop.
//
// Startup sequence:
//  1. Load and validate config.
//  2. Initialize structured logger (zap).
//  3. Open the boltstore checkpoint sink and restore the latest
//     checkpoint's resident profiles, if any.
//  4. Start the Prometheus metrics server.
//  5. Build the shard pool, policy runtime, feedback channel, checkpoint
//     manager, and Tier-2 forwarder.
//  6. Start the shard pool workers, the forwarder's batching worker, the
//     feedback drain loop, and the checkpoint ticker.
//
// Shutdown sequence (on ctx cancellation):
//  1. Shard pool workers exit, closing the shared output channel.
//  2. The output-draining goroutine exits once that channel closes.
//  3. The forwarder flushes its last partial batch and exits.
//  4. A final checkpoint is written before Close returns.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/viacore/tier1-core/internal/boltstore"
	"github.com/viacore/tier1-core/internal/checkpoint"
	"github.com/viacore/tier1-core/internal/config"
	"github.com/viacore/tier1-core/internal/feedback"
	"github.com/viacore/tier1-core/internal/forwarder"
	"github.com/viacore/tier1-core/internal/observability"
	"github.com/viacore/tier1-core/internal/policy"
	"github.com/viacore/tier1-core/internal/profile"
	"github.com/viacore/tier1-core/internal/registry"
	"github.com/viacore/tier1-core/internal/shard"
	"github.com/viacore/tier1-core/internal/signal"
)

// Engine owns every subsystem of a running tier1-agent node.
type Engine struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics

	registry   *registry.ProfileRegistry
	policy     *policy.Runtime
	feedbackCh *feedback.Channel
	checkpoint *checkpoint.Manager
	store      *boltstore.Store
	shardPool  *shard.Pool
	forwarder  *forwarder.Tier2Forwarder
	admin      *policy.AdminServer

	evictedMu  sync.Mutex
	evictedBuf []checkpoint.ProfileCheckpoint

	wg sync.WaitGroup
}

// New builds an Engine from cfg. It opens the checkpoint store but does
// not start any background goroutines — call Run for that.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	metrics := observability.NewMetrics()

	store, err := boltstore.Open(cfg.Checkpoint.StorePath)
	if err != nil {
		return nil, fmt.Errorf("engine.New: open checkpoint store: %w", err)
	}

	seed := cfg.Ensemble.Seed
	if seed == 0 {
		seed = int64(len(cfg.NodeID)) + time.Now().UnixNano()%1_000_003
	}

	reg := registry.WithConfig(registry.Config{
		MaxProfiles:          cfg.Registry.MaxProfiles,
		MinEventsForEviction: cfg.Registry.MinEventsForEviction,
	}, seed)

	pol := policy.NewRuntime()
	feedbackCh := feedback.NewChannel(cfg.Feedback.ChannelCapacity)
	checkpointMgr := checkpoint.NewManager()

	if full, ok, restoreErr := store.LatestCheckpoint(); restoreErr == nil && ok {
		restored := reg.RestoreFrom(full.Profiles, full.GlobalEnsemble)
		log.Info("restored checkpoint",
			zap.Uint64("timestamp", full.Timestamp),
			zap.Int("profile_count", full.ProfileCount),
			zap.Int("profiles_restored", restored))
	}

	shardPool := shard.New(shard.Config{
		NumShards: cfg.Shard.NumShards,
		QueueSize: cfg.Shard.QueueSize,
	}, reg, pol, metrics, log, cfg.Shard.OutputCapacity)

	fwd := forwarder.New(forwarder.Config{
		Tier2URL:        cfg.Forwarder.Tier2URL,
		BatchSize:       cfg.Forwarder.BatchSize,
		FlushInterval:   cfg.Forwarder.FlushInterval,
		MaxRetries:      cfg.Forwarder.MaxRetries,
		RetryBaseDelay:  cfg.Forwarder.RetryBaseDelay,
		ChannelCapacity: cfg.Forwarder.ChannelCapacity,
		Timeout:         cfg.Forwarder.Timeout,
	}, log)

	admin := policy.NewAdminServer(cfg.Policy.AdminSocketPath, pol, log)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		registry:   reg,
		policy:     pol,
		feedbackCh: feedbackCh,
		checkpoint: checkpointMgr,
		store:      store,
		shardPool:  shardPool,
		forwarder:  fwd,
		admin:      admin,
	}

	reg.OnEvict(e.onProfileEvicted)

	return e, nil
}

// onProfileEvicted captures an evicted profile's final state so its
// learned detector state and ensemble weights aren't silently lost; it's
// flushed into the next checkpoint instead of being written immediately,
// since eviction can happen far more often than the checkpoint interval.
func (e *Engine) onProfileEvicted(hash uint64, p *profile.AnomalyProfile) {
	pc := p.Checkpoint(0)
	pc.EntityHash = hash

	e.evictedMu.Lock()
	e.evictedBuf = append(e.evictedBuf, pc)
	e.evictedMu.Unlock()
}

// BuildLogger constructs a zap.Logger with the given level and format.
func BuildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

// Metrics returns the engine's metrics registry, for wiring the HTTP
// metrics server.
func (e *Engine) Metrics() *observability.Metrics { return e.metrics }

// Submit routes one telemetry observation into the shard pipeline,
// without blocking. Returns false if the owning shard's queue is full.
func (e *Engine) Submit(event shard.Event) bool {
	return e.shardPool.Submit(event)
}

// SubmitFeedback enqueues ground-truth feedback from Tier-2, without
// blocking. Returns false if the feedback channel is full.
func (e *Engine) SubmitFeedback(event feedback.Event) bool {
	return e.feedbackCh.TrySend(event)
}

// Run starts every background goroutine (shard workers, forwarder relay,
// feedback drain, checkpoint ticker) and blocks until ctx is cancelled,
// then drains what it can before returning.
func (e *Engine) Run(ctx context.Context) {
	out := e.shardPool.Run(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.forwarder.Run(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.relaySignals(out)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drainFeedback(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.checkpointLoop(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.admin.ListenAndServe(ctx); err != nil {
			e.log.Error("policy admin server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	e.wg.Wait()

	if err := e.writeCheckpoint(); err != nil {
		e.log.Warn("final checkpoint failed", zap.Error(err))
	}
}

// Close releases the engine's durable resources. Call after Run returns.
func (e *Engine) Close() error {
	return e.store.Close()
}

// relaySignals forwards every policy-adjusted signal the shard pool
// emits with IsAnomaly set to the Tier-2 forwarder, until out closes;
// other signals are discarded.
func (e *Engine) relaySignals(out <-chan signal.AnomalySignal) {
	for sig := range out {
		if !sig.IsAnomaly {
			continue
		}
		if !e.forwarder.TrySend(sig) {
			e.log.Debug("forwarder channel full, dropping signal",
				zap.Uint64("entity_hash", sig.EntityHash))
		}
	}
}

// drainFeedback periodically drains the feedback channel, folds each
// event's verdict back into the reporting entity's profile, and, when a
// batch carries confirmed outcomes, sets the ensemble F1 gauge from the
// channel's lifetime stats.
func (e *Engine) drainFeedback(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.applyFeedback(e.feedbackCh.Drain())
			return
		case <-ticker.C:
			e.applyFeedback(e.feedbackCh.Drain())
		}
	}
}

func (e *Engine) applyFeedback(events []feedback.Event) {
	if len(events) == 0 {
		return
	}

	for _, ev := range events {
		prof := e.registry.Get(ev.EntityHash)
		if prof == nil {
			continue
		}

		var sig signal.AnomalySignal
		for i, score := range ev.DetectorScores {
			sig.DetectorScores[i] = signal.DetectorScore{Score: score, Confidence: 1.0}
		}
		weight := feedback.ConfidenceWeight(ev.FeedbackConfidence)
		prof.RecordFeedback(sig, ev.WasTruePositive, weight)
	}

	update := feedback.FromBatch(events)
	if update.IsSignificant() {
		snap := e.feedbackCh.Stats().Snapshot()
		e.metrics.EnsembleF1Score.Set(snap.F1Score)
	}
}

// checkpointLoop writes a checkpoint every Checkpoint.Interval, and once
// more right before Run returns (handled by writeCheckpoint in Run).
func (e *Engine) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Checkpoint.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.writeCheckpoint(); err != nil {
				e.log.Warn("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) writeCheckpoint() error {
	var profiles []checkpoint.ProfileCheckpoint
	e.registry.ForEach(func(hash uint64, p *profile.AnomalyProfile) {
		profiles = append(profiles, p.Checkpoint(0))
	})

	e.evictedMu.Lock()
	if len(e.evictedBuf) > 0 {
		profiles = append(profiles, e.evictedBuf...)
		e.evictedBuf = nil
	}
	e.evictedMu.Unlock()

	feedbackSnap := e.feedbackCh.Stats().Snapshot()
	req, err := e.checkpoint.CreateCheckpoint(
		profiles,
		checkpoint.DefaultEnsembleCheckpoint(),
		checkpoint.FeedbackCheckpoint{
			TotalReceived:  feedbackSnap.Received,
			TotalProcessed: feedbackSnap.Processed,
			TruePositives:  feedbackSnap.TruePositives,
			FalsePositives: feedbackSnap.FalsePositives,
			FalseNegatives: feedbackSnap.FalseNegatives,
		},
		e.policy.CurrentVersion(),
	)
	if err != nil {
		return fmt.Errorf("writeCheckpoint: %w", err)
	}

	if err := e.store.PutCheckpoint(req); err != nil {
		return fmt.Errorf("writeCheckpoint: persist: %w", err)
	}
	e.checkpoint.RecordSuccess(req.CheckpointID)

	if _, err := e.store.KeepLatest(10); err != nil {
		e.log.Warn("checkpoint pruning failed", zap.Error(err))
	}

	e.metrics.CheckpointsTotal.Inc()
	e.metrics.CheckpointSizeBytes.Set(float64(req.UncompressedSize))
	e.log.Info("checkpoint written",
		zap.Uint64("checkpoint_id", req.CheckpointID),
		zap.Int("profile_count", req.ProfileCount),
		zap.Int("size_bytes", req.UncompressedSize))

	return nil
}
