// Package shard — shard.go
//
// Hash-partitioned worker pool that fans incoming telemetry events out
// across a fixed number of shard goroutines, each owning a disjoint slice
// of the profile registry's entity hash space.
//
// Architecture:
//
//	[Event source (gRPC/HTTP ingest)]
//	      ↓  (Submit, hash-routed)
//	[Per-shard bounded channel, cap=QueueSize]
//	      ↓
//	[Shard worker goroutine]
//	      ↓  registry.GetOrCreate(entityHash).Observe(...)
//	[policy.Runtime.Evaluate → signal.AnomalySignal]
//	      ↓
//	[Output channel → forwarder]
//
// Backpressure:
//   - If a shard's channel is full, the event is dropped and
//     metrics.EventsDroppedTotal is incremented.
//
// Shutdown:
//   - ctx cancellation stops every worker goroutine cleanly.
//   - Shard channels are neither closed nor emptied on exit; any event
//     still queued when ctx is cancelled is lost, same tradeoff
//     the ring buffer processor makes for kernel events.
package shard

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/viacore/tier1-core/internal/observability"
	"github.com/viacore/tier1-core/internal/policy"
	"github.com/viacore/tier1-core/internal/registry"
	"github.com/viacore/tier1-core/internal/signal"
)

// Event is one incoming telemetry observation to be routed to a shard.
type Event struct {
	EntityHash  uint64
	TimestampNs uint64
	Sequence    uint64
	Value       float64
}

// Config tunes the shard pool's parallelism and per-shard buffering.
type Config struct {
	// NumShards is the number of independent worker goroutines. Each owns
	// entityHash % NumShards of the hash space, so a single hot entity
	// never contends with another shard's events.
	NumShards int
	// QueueSize is the bounded channel capacity per shard.
	QueueSize int
}

// DefaultConfig supplies a fixed 4-shard pool for tests and single-node
// deployments; the engine takes its shard count from config.Defaults,
// which uses runtime.GOMAXPROCS(0).
func DefaultConfig() Config {
	return Config{NumShards: 4, QueueSize: 10_000}
}

// Pool owns NumShards worker goroutines, each draining its own bounded
// event channel into the profile registry and emitting policy-adjusted
// signals on a shared output channel.
type Pool struct {
	cfg      Config
	queues   []chan Event
	registry *registry.ProfileRegistry
	policy   *policy.Runtime
	metrics  *observability.Metrics
	log      *zap.Logger
	out      chan signal.AnomalySignal

	wg sync.WaitGroup
}

// New builds a shard pool wired to reg for profile storage, pol for
// policy evaluation, and metrics/log for observability. outCap bounds the
// shared output channel the caller drains for forwarding.
func New(cfg Config, reg *registry.ProfileRegistry, pol *policy.Runtime, metrics *observability.Metrics, log *zap.Logger, outCap int) *Pool {
	if cfg.NumShards < 1 {
		cfg.NumShards = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	queues := make([]chan Event, cfg.NumShards)
	for i := range queues {
		queues[i] = make(chan Event, cfg.QueueSize)
	}

	return &Pool{
		cfg:      cfg,
		queues:   queues,
		registry: reg,
		policy:   pol,
		metrics:  metrics,
		log:      log,
		out:      make(chan signal.AnomalySignal, outCap),
	}
}

// Submit routes event to its owning shard by entityHash % NumShards,
// without blocking. Returns false (and counts a drop) if that shard's
// queue is full.
func (p *Pool) Submit(event Event) bool {
	idx := int(event.EntityHash % uint64(p.cfg.NumShards))
	select {
	case p.queues[idx] <- event:
		if p.metrics != nil {
			p.metrics.ShardQueueDepth.WithLabelValues(shardLabel(idx)).Set(float64(len(p.queues[idx])))
		}
		return true
	default:
		if p.metrics != nil {
			p.metrics.EventsDroppedTotal.Inc()
		}
		return false
	}
}

// Run starts one worker goroutine per shard and returns the shared output
// channel. Blocks the caller not at all — Run spawns and returns
// immediately; the channel is closed once every worker has exited
// following ctx cancellation.
func (p *Pool) Run(ctx context.Context) <-chan signal.AnomalySignal {
	for i := 0; i < p.cfg.NumShards; i++ {
		p.wg.Add(1)
		go p.runShard(ctx, i)
	}

	go func() {
		p.wg.Wait()
		close(p.out)
	}()

	return p.out
}

func (p *Pool) runShard(ctx context.Context, idx int) {
	defer p.wg.Done()
	queue := p.queues[idx]

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-queue:
			if !ok {
				return
			}
			p.process(idx, event)
		}
	}
}

func (p *Pool) process(idx int, event Event) {
	prof := p.registry.GetOrCreate(event.EntityHash)
	sig := prof.Observe(event.TimestampNs, event.Sequence, event.Value)

	if p.metrics != nil {
		p.metrics.EventsProcessedTotal.Inc()
		p.metrics.AnomalyScoreHistogram.Observe(sig.EnsembleScore)
		if sig.IsAnomaly {
			p.metrics.DetectorFiredTotal.WithLabelValues(sig.PrimaryDetectorName()).Inc()
			p.metrics.SignalsEmittedTotal.WithLabelValues(sig.Severity.String()).Inc()
		}
	}

	if p.policy != nil {
		effect := p.policy.Evaluate(event.EntityHash, uint8(sig.Attribution.PrimaryDetector), sig.Confidence)
		if effect.Suppress {
			if p.metrics != nil {
				p.metrics.PolicySuppressionsTotal.Inc()
			}
			return
		}
		sig.EnsembleScore *= effect.ScoreScale
		sig.Confidence *= effect.ConfidenceScale
		sig.IsAnomaly = sig.EnsembleScore >= 0.4 && sig.Confidence >= 0.5
	}

	select {
	case p.out <- sig:
	default:
		if p.metrics != nil {
			p.metrics.EventsDroppedTotal.Inc()
		}
		if p.log != nil {
			p.log.Debug("output channel full, dropping signal",
				zap.Uint64("entity_hash", event.EntityHash),
				zap.Int("shard", idx))
		}
	}
}

// QueueDepth returns the current depth of shard idx's event queue, for
// diagnostics and tests.
func (p *Pool) QueueDepth(idx int) int {
	if idx < 0 || idx >= len(p.queues) {
		return 0
	}
	return len(p.queues[idx])
}

// NumShards returns the configured shard count.
func (p *Pool) NumShards() int { return p.cfg.NumShards }

func shardLabel(idx int) string {
	const digits = "0123456789"
	if idx < 10 {
		return digits[idx : idx+1]
	}
	// Fall back for pools with 10+ shards; NumShards rarely exceeds
	// NumCPU in practice.
	buf := []byte{}
	for idx > 0 {
		buf = append([]byte{digits[idx%10]}, buf...)
		idx /= 10
	}
	return string(buf)
}
