// Package feedback carries ground-truth confirmations back from Tier-2
// (or a human reviewer) into the running ensemble: whether a forwarded
// signal was a true positive, a false positive, or a missed detection.
package feedback

import (
	"sync/atomic"

	"github.com/viacore/tier1-core/internal/signal"
)

// Source identifies where a feedback event originated.
type Source uint8

const (
	SourceLLMAnalysis Source = iota
	SourceHumanReview
	SourceAutoCorrelation
	SourceTimeout
)

const detectorFireThreshold = 0.5

// Event is one confirmation or correction of a previously forwarded
// signal's verdict.
type Event struct {
	EntityHash         uint64
	SignalTimestamp    uint64
	WasTruePositive    bool
	DetectorScores     [signal.NumDetectors]float64
	OriginalDecision   bool
	FeedbackConfidence float64
	Source             Source
}

// TruePositive builds feedback confirming a forwarded anomaly was real.
func TruePositive(entityHash, signalTimestamp uint64, scores [signal.NumDetectors]float64, source Source, confidence float64) Event {
	return Event{
		EntityHash: entityHash, SignalTimestamp: signalTimestamp,
		WasTruePositive: true, DetectorScores: scores,
		OriginalDecision: true, FeedbackConfidence: confidence, Source: source,
	}
}

// FalsePositive builds feedback overturning a forwarded anomaly as noise.
func FalsePositive(entityHash, signalTimestamp uint64, scores [signal.NumDetectors]float64, source Source, confidence float64) Event {
	return Event{
		EntityHash: entityHash, SignalTimestamp: signalTimestamp,
		WasTruePositive: false, DetectorScores: scores,
		OriginalDecision: true, FeedbackConfidence: confidence, Source: source,
	}
}

// FalseNegative builds feedback for a real anomaly the ensemble missed.
func FalseNegative(entityHash, signalTimestamp uint64, scores [signal.NumDetectors]float64, source Source, confidence float64) Event {
	return Event{
		EntityHash: entityHash, SignalTimestamp: signalTimestamp,
		WasTruePositive: true, DetectorScores: scores,
		OriginalDecision: false, FeedbackConfidence: confidence, Source: source,
	}
}

// CorrectDetectors reports, for each detector, whether its vote (fired if
// score >= 0.5) matched the confirmed ground truth.
func (e Event) CorrectDetectors() [signal.NumDetectors]bool {
	var correct [signal.NumDetectors]bool
	for i, score := range e.DetectorScores {
		fired := score >= detectorFireThreshold
		correct[i] = fired == e.WasTruePositive
	}
	return correct
}

// Stats accumulates lifetime feedback-processing counters with
// lock-free atomics, since TrySend callers and the feedback drain loop
// both touch it concurrently.
type Stats struct {
	received       atomic.Uint64
	processed      atomic.Uint64
	truePositives  atomic.Uint64
	falsePositives atomic.Uint64
	falseNegatives atomic.Uint64
	dropped        atomic.Uint64
}

func (s *Stats) recordReceived() { s.received.Add(1) }

func (s *Stats) recordProcessed(e Event) {
	s.processed.Add(1)
	switch {
	case e.WasTruePositive && e.OriginalDecision:
		s.truePositives.Add(1)
	case !e.WasTruePositive && e.OriginalDecision:
		s.falsePositives.Add(1)
	case e.WasTruePositive && !e.OriginalDecision:
		s.falseNegatives.Add(1)
	}
}

func (s *Stats) recordDropped() { s.dropped.Add(1) }

// Precision defaults to 1.0 with no positive feedback yet.
func (s *Stats) Precision() float64 {
	tp := float64(s.truePositives.Load())
	fp := float64(s.falsePositives.Load())
	if tp+fp > 0 {
		return tp / (tp + fp)
	}
	return 1.0
}

func (s *Stats) Recall() float64 {
	tp := float64(s.truePositives.Load())
	fnCount := float64(s.falseNegatives.Load())
	if tp+fnCount > 0 {
		return tp / (tp + fnCount)
	}
	return 1.0
}

func (s *Stats) F1Score() float64 {
	p, r := s.Precision(), s.Recall()
	if p+r > 0 {
		return 2 * p * r / (p + r)
	}
	return 0
}

// Snapshot is a point-in-time, serializable copy of Stats.
type Snapshot struct {
	Received       uint64
	Processed      uint64
	TruePositives  uint64
	FalsePositives uint64
	FalseNegatives uint64
	Dropped        uint64
	Precision      float64
	Recall         float64
	F1Score        float64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Received:       s.received.Load(),
		Processed:      s.processed.Load(),
		TruePositives:  s.truePositives.Load(),
		FalsePositives: s.falsePositives.Load(),
		FalseNegatives: s.falseNegatives.Load(),
		Dropped:        s.dropped.Load(),
		Precision:      s.Precision(),
		Recall:         s.Recall(),
		F1Score:        s.F1Score(),
	}
}

// Channel is a bounded, non-blocking MPMC queue for feedback events:
// TrySend never blocks a caller, and a full channel is counted as a drop
// rather than applying backpressure to whoever is sending feedback.
type Channel struct {
	events chan Event
	stats  Stats
}

// NewChannel builds a feedback channel with the given buffer capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{events: make(chan Event, capacity)}
}

// TrySend enqueues event without blocking, returning false (and counting
// a drop) if the channel is full.
func (c *Channel) TrySend(event Event) bool {
	c.stats.recordReceived()
	select {
	case c.events <- event:
		return true
	default:
		c.stats.recordDropped()
		return false
	}
}

// Drain pulls every currently-queued event off the channel without
// blocking.
func (c *Channel) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-c.events:
			c.stats.recordProcessed(e)
			out = append(out, e)
		default:
			return out
		}
	}
}

// Stats returns the channel's lifetime counters.
func (c *Channel) Stats() *Stats { return &c.stats }

// LearningUpdate aggregates a batch of feedback events into per-detector
// (successes, failures) pairs, weighted by how confident Tier-2 was in
// each confirmation.
type LearningUpdate struct {
	DetectorOutcomes [signal.NumDetectors][2]uint32 // [successes, failures]
	TruePositives    uint32
	FalsePositives   uint32
	FalseNegatives   uint32
}

// FromBatch builds a LearningUpdate from a batch of feedback events. Each
// event's contribution is weighted by max(1, round(confidence*10)) per
// the feedback-confidence-weighting contract.
func FromBatch(events []Event) LearningUpdate {
	var update LearningUpdate
	for _, e := range events {
		weight := confidenceWeight(e.FeedbackConfidence)

		switch {
		case e.WasTruePositive && e.OriginalDecision:
			update.TruePositives += weight
		case !e.WasTruePositive && e.OriginalDecision:
			update.FalsePositives += weight
		case e.WasTruePositive && !e.OriginalDecision:
			update.FalseNegatives += weight
		}

		correct := e.CorrectDetectors()
		for i, ok := range correct {
			if ok {
				update.DetectorOutcomes[i][0] += weight
			} else {
				update.DetectorOutcomes[i][1] += weight
			}
		}
	}
	return update
}

// ConfidenceWeight converts a single feedback event's confidence into the
// integer weight used to scale its contribution to ensemble learning, per
// the max(1, round(confidence*10)) contract.
func ConfidenceWeight(confidence float64) uint32 {
	return confidenceWeight(confidence)
}

func confidenceWeight(confidence float64) uint32 {
	w := int64(round(confidence * 10))
	if w < 1 {
		w = 1
	}
	return uint32(w)
}

func round(v float64) float64 {
	if v < 0 {
		return -round(-v)
	}
	return float64(int64(v + 0.5))
}

// IsSignificant reports whether this update carries any confirmed
// outcome at all.
func (u LearningUpdate) IsSignificant() bool {
	return u.TruePositives+u.FalsePositives+u.FalseNegatives > 0
}
