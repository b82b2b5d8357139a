package detectors

import (
	"math"
	"math/rand"
	"testing"
)

func TestAdaptiveThreshold_EwmaSigmaAboveMean(t *testing.T) {
	th := NewEwmaSigmaThreshold(20, 2.0)
	for i := 0; i < 30; i++ {
		th.Update(100.0 + rand.Float64()*5.0)
	}
	mean, std, threshold, _ := th.Stats()
	if threshold <= mean {
		t.Errorf("expected threshold above mean, threshold=%f mean=%f", threshold, mean)
	}
	if math.Abs(threshold-(mean+2.0*std)) > 5.0 {
		t.Errorf("expected threshold ~= mean + 2*sigma, threshold=%f mean=%f std=%f", threshold, mean, std)
	}
}

func TestAdaptiveThreshold_Percentile(t *testing.T) {
	th := NewPercentileThreshold(50, 0.90)
	for i := 1; i <= 100; i++ {
		th.Update(float64(i))
	}
	_, _, threshold, _ := th.Stats()
	if threshold < 85.0 || threshold > 95.0 {
		t.Errorf("expected 90th percentile threshold near 90, got %f", threshold)
	}
}

func TestAdaptiveThreshold_Mad(t *testing.T) {
	th := NewMadThreshold(50, 3.0)
	for i := 0; i < 50; i++ {
		th.Update(100.0 + rand.Float64()*2.0)
	}
	mean, _, _, _ := th.Stats()
	if !th.IsAnomaly(150.0) {
		t.Error("expected 150.0 to be flagged as an outlier")
	}
	if th.IsAnomaly(mean) {
		t.Error("expected the mean value to not be flagged")
	}
}

func TestAdaptiveThreshold_AnomalyScoreBands(t *testing.T) {
	th := NewEwmaSigmaThreshold(20, 2.0)
	for i := 0; i < 25; i++ {
		th.Update(10.0)
	}
	_, _, threshold, _ := th.Stats()

	if score := th.AnomalyScore(threshold * 0.5); score != 0.0 {
		t.Errorf("expected score 0 below threshold, got %f", score)
	}
	if score := th.AnomalyScore(threshold); score != 0.0 {
		t.Errorf("expected score 0 at threshold, got %f", score)
	}
	if score := th.AnomalyScore(threshold * 2.0); math.Abs(score-0.5) > 0.01 {
		t.Errorf("expected score ~0.5 at 2x threshold, got %f", score)
	}
}

func TestAdaptiveThreshold_AdaptsToRegimeShift(t *testing.T) {
	th := NewEwmaSigmaThreshold(30, 2.0)
	for i := 0; i < 40; i++ {
		th.Update(10.0)
	}
	_, _, low, _ := th.Stats()

	for i := 0; i < 40; i++ {
		th.Update(100.0)
	}
	_, _, high, _ := th.Stats()

	if high <= low*5.0 {
		t.Errorf("expected threshold to adapt upward sharply, low=%f high=%f", low, high)
	}
}

func TestAdaptiveThreshold_Presets(t *testing.T) {
	if VolumeThreshold().method != ThresholdEwmaSigma {
		t.Error("expected VolumeThreshold to use EwmaSigma")
	}
	if DistributionThreshold().method != ThresholdEwmaSigma {
		t.Error("expected DistributionThreshold to use EwmaSigma")
	}
	if CardinalityThreshold().method != ThresholdPercentile {
		t.Error("expected CardinalityThreshold to use Percentile")
	}
	if BurstThreshold().method != ThresholdMad {
		t.Error("expected BurstThreshold to use Mad")
	}
	if ConservativeThreshold().method != ThresholdEnsemble {
		t.Error("expected ConservativeThreshold to use Ensemble")
	}
}
