package feedback

import (
	"testing"

	"github.com/viacore/tier1-core/internal/signal"
)

func scoresFrom(vals ...float64) [signal.NumDetectors]float64 {
	var s [signal.NumDetectors]float64
	copy(s[:], vals)
	return s
}

func TestChannel_SendDrainAndStats(t *testing.T) {
	ch := NewChannel(100)
	event := TruePositive(12345, 1_000_000, scoresFrom(0.8, 0.6, 0.3), SourceLLMAnalysis, 0.95)

	if !ch.TrySend(event) {
		t.Fatal("expected TrySend to succeed on a non-full channel")
	}

	events := ch.Drain()
	if len(events) != 1 {
		t.Fatalf("Drain() returned %d events, want 1", len(events))
	}
	if !events[0].WasTruePositive {
		t.Fatal("expected drained event to preserve WasTruePositive")
	}

	snap := ch.Stats().Snapshot()
	if snap.Received != 1 || snap.Processed != 1 || snap.TruePositives != 1 {
		t.Fatalf("snapshot = %+v, want received=1 processed=1 truePositives=1", snap)
	}
}

func TestChannel_TrySendFailsWhenFull(t *testing.T) {
	ch := NewChannel(1)
	ch.TrySend(TruePositive(1, 1, scoresFrom(), SourceHumanReview, 1.0))
	if ch.TrySend(TruePositive(2, 2, scoresFrom(), SourceHumanReview, 1.0)) {
		t.Fatal("expected TrySend to fail once the channel is full")
	}
	if ch.Stats().Snapshot().Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", ch.Stats().Snapshot().Dropped)
	}
}

func TestCorrectDetectors_MatchesFireThresholdAgainstGroundTruth(t *testing.T) {
	event := TruePositive(12345, 1_000_000, scoresFrom(0.8, 0.6, 0.3), SourceHumanReview, 1.0)
	correct := event.CorrectDetectors()
	if !correct[0] {
		t.Error("detector 0 fired (0.8 >= 0.5) on a true positive: expected correct")
	}
	if !correct[1] {
		t.Error("detector 1 fired (0.6 >= 0.5) on a true positive: expected correct")
	}
	if correct[2] {
		t.Error("detector 2 did not fire (0.3 < 0.5) on a true positive: expected incorrect")
	}
}

func TestLearningUpdate_FromBatchAggregatesWeightedOutcomes(t *testing.T) {
	events := []Event{
		TruePositive(1, 1000, scoresFrom(0.8, 0.6, 0.3), SourceLLMAnalysis, 1.0),
		FalsePositive(2, 2000, scoresFrom(0.9, 0.2, 0.1), SourceHumanReview, 0.8),
	}

	update := FromBatch(events)
	if !update.IsSignificant() {
		t.Fatal("expected a batch with confirmed outcomes to be significant")
	}
	if update.TruePositives == 0 {
		t.Error("expected at least one weighted true positive")
	}
	if update.FalsePositives == 0 {
		t.Error("expected at least one weighted false positive")
	}
}

func TestLearningUpdate_EmptyBatchIsNotSignificant(t *testing.T) {
	update := FromBatch(nil)
	if update.IsSignificant() {
		t.Fatal("expected an empty batch to be insignificant")
	}
}

func TestConfidenceWeight_RoundsAndFloorsAtOne(t *testing.T) {
	if w := confidenceWeight(0.04); w != 1 {
		t.Errorf("confidenceWeight(0.04) = %d, want 1 (floored)", w)
	}
	if w := confidenceWeight(0.95); w != 10 {
		t.Errorf("confidenceWeight(0.95) = %d, want 10 (rounds up)", w)
	}
	if w := confidenceWeight(0.44); w != 4 {
		t.Errorf("confidenceWeight(0.44) = %d, want 4 (rounds to nearest)", w)
	}
}

func TestStats_PrecisionRecallDefaultToOneWithNoData(t *testing.T) {
	s := &Stats{}
	if s.Precision() != 1.0 {
		t.Errorf("Precision() = %f, want 1.0 prior", s.Precision())
	}
	if s.Recall() != 1.0 {
		t.Errorf("Recall() = %f, want 1.0 prior", s.Recall())
	}
}
