// Package forwarder — forwarder.go
//
// Batches anomaly signals emitted by the shard pool and forwards them to
// Tier-2 over HTTP, with bounded backpressure and exponential-backoff
// retry.
//
// Architecture:
//
//	[shard.Pool output channel]
//	      ↓  (TrySend, non-blocking)
//	[buffered channel, cap=ChannelCapacity]
//	      ↓
//	[Worker goroutine: batches by size or flush interval]
//	      ↓  (net/http POST, JSON body)
//	[Tier-2 /tier2/anomalies endpoint]
//
// Backpressure:
//   - TrySend never blocks; a full channel counts as a drop.
//   - A batch that exhausts MaxRetries is counted failed and discarded —
//     Tier-2 unavailability does not back up into the shard pipeline.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/viacore/tier1-core/internal/signal"
)

// DefaultTier2URL is used when ForwarderConfig.Tier2URL is left unset.
const DefaultTier2URL = "http://localhost:3000"

// SignalSchemaVersion is the wire schema version stamped on every
// forwarded signal.
const SignalSchemaVersion uint16 = 1

// Tier1SignalV1 is the flattened wire representation of an
// signal.AnomalySignal sent to Tier-2 — a thinner shape than the
// internal signal, carrying only what a downstream verifier needs.
type Tier1SignalV1 struct {
	EventID         string    `json:"event_id"`
	SchemaVersion   uint16    `json:"schema_version"`
	EntityHash      string    `json:"entity_hash"`
	Timestamp       uint64    `json:"timestamp"`
	Score           float64   `json:"score"`
	Severity        uint8     `json:"severity"`
	PrimaryDetector uint8     `json:"primary_detector"`
	DetectorsFired  uint8     `json:"detectors_fired"`
	Confidence      float64   `json:"confidence"`
	DetectorScores  []float64 `json:"detector_scores"`
}

// FromAnomalySignal flattens a signal.AnomalySignal into its Tier-2 wire
// form, stamping a stable, human-traceable event ID.
func FromAnomalySignal(sig signal.AnomalySignal) Tier1SignalV1 {
	scores := make([]float64, signal.NumDetectors)
	for i, ds := range sig.DetectorScores {
		scores[i] = ds.Score
	}

	return Tier1SignalV1{
		EventID:         fmt.Sprintf("%016x-%d-%d", sig.EntityHash, sig.Timestamp, sig.Sequence),
		SchemaVersion:   SignalSchemaVersion,
		EntityHash:      strconv.FormatUint(sig.EntityHash, 10),
		Timestamp:       sig.Timestamp,
		Score:           sig.EnsembleScore,
		Severity:        uint8(sig.Severity),
		PrimaryDetector: uint8(sig.Attribution.PrimaryDetector),
		DetectorsFired:  sig.Attribution.DetectorsFired,
		Confidence:      sig.Confidence,
		DetectorScores:  scores,
	}
}

// SignalBatch is the JSON body of one POST to Tier-2.
type SignalBatch struct {
	Signals []Tier1SignalV1 `json:"signals"`
}

// Tier2Response is Tier-2's acknowledgement of a forwarded batch.
type Tier2Response struct {
	Status  string  `json:"status"`
	EventID *string `json:"event_id,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

// Config tunes batching, retry, and transport behavior.
type Config struct {
	Tier2URL        string
	BatchSize       int
	FlushInterval   time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	ChannelCapacity int
	Timeout         time.Duration
}

// DefaultConfig mirrors the production forwarder defaults: 100-signal
// batches, a 1s flush tick, 3 retries with a 100ms exponential base delay.
func DefaultConfig() Config {
	return Config{
		Tier2URL:        DefaultTier2URL,
		BatchSize:       100,
		FlushInterval:   time.Second,
		MaxRetries:      3,
		RetryBaseDelay:  100 * time.Millisecond,
		ChannelCapacity: 10_000,
		Timeout:         5 * time.Second,
	}
}

// Stats accumulates lifetime forwarder counters with lock-free atomics —
// TrySend and the batching worker both touch it concurrently.
type Stats struct {
	sent    atomic.Uint64
	failed  atomic.Uint64
	retried atomic.Uint64
	dropped atomic.Uint64
	batches atomic.Uint64
}

// Snapshot is a point-in-time, serializable copy of Stats.
type Snapshot struct {
	Sent    uint64
	Failed  uint64
	Retried uint64
	Dropped uint64
	Batches uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Retried: s.retried.Load(),
		Dropped: s.dropped.Load(),
		Batches: s.batches.Load(),
	}
}

// Tier2Forwarder owns the buffered channel and worker goroutine that
// batches and POSTs signals to Tier-2.
type Tier2Forwarder struct {
	ch     chan signal.AnomalySignal
	stats  *Stats
	client *http.Client
	cfg    Config
	log    *zap.Logger
}

// New allocates a Tier2Forwarder and returns it; it starts no goroutine.
// Run drives the worker loop and must be invoked by the caller's own goroutine management (the
// engine wires this to its own lifecycle context).
func New(cfg Config, log *zap.Logger) *Tier2Forwarder {
	if cfg.Tier2URL == "" {
		cfg.Tier2URL = DefaultTier2URL
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.ChannelCapacity < 1 {
		cfg.ChannelCapacity = 1
	}

	return &Tier2Forwarder{
		ch:     make(chan signal.AnomalySignal, cfg.ChannelCapacity),
		stats:  &Stats{},
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
	}
}

// Stats returns the forwarder's lifetime counters.
func (f *Tier2Forwarder) Stats() *Stats { return f.stats }

// TrySend enqueues sig without blocking, returning false (and counting a
// drop) if the channel is full.
func (f *Tier2Forwarder) TrySend(sig signal.AnomalySignal) bool {
	select {
	case f.ch <- sig:
		return true
	default:
		f.stats.dropped.Add(1)
		return false
	}
}

// Run drives the batching worker loop until ctx is cancelled, flushing
// any partial batch before returning.
func (f *Tier2Forwarder) Run(ctx context.Context) {
	url := f.cfg.Tier2URL + "/tier2/anomalies"
	batch := make([]Tier1SignalV1, 0, f.cfg.BatchSize)

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	if f.log != nil {
		f.log.Info("tier-2 forwarder started", zap.String("url", url))
	}

	for {
		select {
		case sig, ok := <-f.ch:
			if !ok {
				f.flushBatch(ctx, url, &batch)
				return
			}
			batch = append(batch, FromAnomalySignal(sig))
			if len(batch) >= f.cfg.BatchSize {
				f.flushBatch(ctx, url, &batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				f.flushBatch(ctx, url, &batch)
			}
		case <-ctx.Done():
			f.flushBatch(context.WithoutCancel(ctx), url, &batch)
			if f.log != nil {
				f.log.Info("tier-2 forwarder stopped")
			}
			return
		}
	}
}

// flushBatch POSTs the accumulated batch to Tier-2, retrying with
// exponential backoff up to MaxRetries before giving up and counting the
// batch failed.
func (f *Tier2Forwarder) flushBatch(ctx context.Context, url string, batch *[]Tier1SignalV1) {
	if len(*batch) == 0 {
		return
	}

	payload := SignalBatch{Signals: *batch}
	count := len(payload.Signals)
	*batch = (*batch)[:0]

	body, err := json.Marshal(payload)
	if err != nil {
		if f.log != nil {
			f.log.Error("failed to marshal signal batch", zap.Error(err))
		}
		f.stats.failed.Add(uint64(count))
		return
	}

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if f.attemptSend(ctx, url, body, count, attempt) {
			return
		}

		if attempt < f.cfg.MaxRetries {
			f.stats.retried.Add(1)
			delay := f.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				f.stats.failed.Add(uint64(count))
				return
			}
		}
	}

	f.stats.failed.Add(uint64(count))
	if f.log != nil {
		f.log.Error("dropped signals after max retries", zap.Int("count", count))
	}
}

func (f *Tier2Forwarder) attemptSend(ctx context.Context, url string, body []byte, count, attempt int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		if f.log != nil {
			f.log.Warn("failed to build tier-2 request", zap.Error(err))
		}
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if f.log != nil {
			f.log.Warn("failed to forward to tier-2", zap.Int("attempt", attempt), zap.Error(err))
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		f.stats.sent.Add(uint64(count))
		f.stats.batches.Add(1)
		if f.log != nil {
			f.log.Debug("forwarded signals to tier-2", zap.Int("count", count))
		}
		return true
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if f.log != nil {
			f.log.Warn("tier-2 rate limited", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
		}
	} else if f.log != nil {
		f.log.Warn("tier-2 returned error", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
	}
	return false
}
