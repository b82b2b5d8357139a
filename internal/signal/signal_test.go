package signal

import "testing"

func TestSeverityFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.8, SeverityHigh},
		{0.65, SeverityMedium},
		{0.45, SeverityLow},
		{0.2, SeverityNone},
	}
	for _, c := range cases {
		if got := SeverityFromScore(c.score); got != c.want {
			t.Errorf("SeverityFromScore(%.2f) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestSeverityBoundariesAreExact(t *testing.T) {
	if SeverityFromScore(0.9) != SeverityCritical {
		t.Error("expected exactly 0.9 to be Critical")
	}
	if SeverityFromScore(0.75) != SeverityHigh {
		t.Error("expected exactly 0.75 to be High")
	}
	if SeverityFromScore(0.6) != SeverityMedium {
		t.Error("expected exactly 0.6 to be Medium")
	}
	if SeverityFromScore(0.4) != SeverityLow {
		t.Error("expected exactly 0.4 to be Low")
	}
}

func TestBuilder_FinalizeSetsAnomalyDecision(t *testing.T) {
	sig := NewBuilder(12345, 1000000).
		Sequence(1).
		RawValue(150.0).
		DetectorScore(Volume, DetectorScore{Score: 0.8, Confidence: 0.9, Fired: true, Expected: 100.0, Observed: 150.0}).
		DetectorScore(Distribution, DetectorScore{Score: 0.6, Confidence: 0.85, Fired: true, Expected: 50.0, Observed: 150.0}).
		Finalize(0.75, 0.88)

	if !sig.IsAnomaly {
		t.Error("expected is_anomaly to be true")
	}
	if sig.Severity != SeverityHigh {
		t.Errorf("expected severity High, got %v", sig.Severity)
	}
	if !sig.DetectorFired(Volume) {
		t.Error("expected Volume to have fired")
	}
	if !sig.DetectorFired(Distribution) {
		t.Error("expected Distribution to have fired")
	}
	if sig.DetectorFired(Cardinality) {
		t.Error("expected Cardinality to not have fired")
	}
}

func TestBuilder_IsAnomalyRequiresBothScoreAndConfidence(t *testing.T) {
	lowConfidence := NewBuilder(1, 1).Finalize(0.8, 0.3)
	if lowConfidence.IsAnomaly {
		t.Error("expected low-confidence high score to not be flagged as anomaly")
	}

	lowScore := NewBuilder(1, 1).Finalize(0.2, 0.9)
	if lowScore.IsAnomaly {
		t.Error("expected low score with high confidence to not be flagged as anomaly")
	}
}

func TestComputeAttribution_PicksHighestWeightedContributions(t *testing.T) {
	var scores [NumDetectors]DetectorScore
	scores[Volume] = DetectorScore{Score: 0.9, Confidence: 0.95, Fired: true}
	scores[Distribution] = DetectorScore{Score: 0.7, Confidence: 0.80, Fired: true}
	scores[Cardinality] = DetectorScore{Score: 0.3, Confidence: 0.70, Fired: false}

	weights := [NumDetectors]float64{0.15, 0.12, 0.10, 0.08, 0.12, 0.10, 0.11, 0.08, 0.08, 0.06}

	attr := ComputeAttribution(scores, weights)

	if attr.PrimaryDetector != Volume {
		t.Errorf("expected Volume to be primary, got %v", attr.PrimaryDetector)
	}
	if attr.SecondaryDetector != Distribution {
		t.Errorf("expected Distribution to be secondary, got %v", attr.SecondaryDetector)
	}
	if attr.DetectorsFired != 2 {
		t.Errorf("expected 2 detectors fired, got %d", attr.DetectorsFired)
	}
}

func TestComputeAttribution_ZeroContributionsNormalizeWithoutDivideByZero(t *testing.T) {
	var scores [NumDetectors]DetectorScore
	var weights [NumDetectors]float64
	attr := ComputeAttribution(scores, weights)
	if attr.PrimaryContribution != 0.0 || attr.SecondaryContribution != 0.0 {
		t.Errorf("expected zero contributions on an all-zero input, got %v/%v",
			attr.PrimaryContribution, attr.SecondaryContribution)
	}
}

func TestDetectorID_Name(t *testing.T) {
	if Volume.Name() != "Volume/RPS" {
		t.Errorf("expected Volume name 'Volume/RPS', got %q", Volume.Name())
	}
	if Drift.Name() != "Drift/Concept" {
		t.Errorf("expected Drift name 'Drift/Concept', got %q", Drift.Name())
	}
}

func TestReason_NormalBehaviorShortCircuits(t *testing.T) {
	sig := NewBuilder(1, 1).Finalize(0.1, 0.9)
	if sig.Reason() != "Normal behavior" {
		t.Errorf("expected 'Normal behavior', got %q", sig.Reason())
	}
}
