package ensemble

import (
	"testing"

	"github.com/viacore/tier1-core/internal/signal"
)

func TestNew_UniformInitialWeights(t *testing.T) {
	e := New(5, 0.1, 100, 1)
	w := e.CurrentWeights()
	for i := 0; i < 5; i++ {
		if w[i] != 0.2 {
			t.Errorf("weight[%d] = %f, want 0.2", i, w[i])
		}
	}
	for i := 5; i < signal.NumDetectors; i++ {
		if w[i] != 0 {
			t.Errorf("tail weight[%d] = %f, want 0", i, w[i])
		}
	}
}

func TestNew_ClampsDetectorCount(t *testing.T) {
	e := New(0, 0.1, 100, 1)
	if e.numDetectors != 1 {
		t.Fatalf("numDetectors = %d, want clamped to 1", e.numDetectors)
	}
	e2 := New(99, 0.1, 100, 1)
	if e2.numDetectors != signal.NumDetectors {
		t.Fatalf("numDetectors = %d, want clamped to %d", e2.numDetectors, signal.NumDetectors)
	}
}

func TestCombine_WeightedScoreAndAgreement(t *testing.T) {
	e := Default(1)
	outputs := []DetectorOutput{
		{Detector: signal.Volume, Score: 0.9, Confidence: 0.9},
		{Detector: signal.Distribution, Score: 0.1, Confidence: 0.5},
	}
	score, confidence := e.Combine(outputs)
	if score <= 0 || score >= 1 {
		t.Fatalf("score = %f, want in (0,1)", score)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("confidence = %f, want in (0,1]", confidence)
	}
}

func TestCombine_EmptyOutputsYieldsZero(t *testing.T) {
	e := Default(1)
	score, confidence := e.Combine(nil)
	if score != 0 {
		t.Errorf("score = %f, want 0 for no outputs", score)
	}
	if confidence != 0 {
		t.Errorf("confidence = %f, want 0 for no outputs", confidence)
	}
}

func TestUpdateWithFeedback_RewardsCorrectDetectorsAndPunishesWrongOnes(t *testing.T) {
	e := New(2, 0.1, 5, 1)
	outputs := []DetectorOutput{
		{Detector: signal.Volume, Score: 0.9, Confidence: 0.9},       // correct: fired, was anomaly
		{Detector: signal.Distribution, Score: 0.1, Confidence: 0.9}, // wrong: silent on a real anomaly
	}
	for i := 0; i < 5; i++ {
		e.UpdateWithFeedback(outputs, true, 1)
	}

	stats := e.PerformanceStats()
	if stats[signal.Volume][0] <= 0.5 {
		t.Errorf("Volume precision = %f, want > 0.5 after repeated correct fires", stats[signal.Volume][0])
	}
	if stats[signal.Distribution][1] >= 0.5 {
		t.Errorf("Distribution recall = %f, want < 0.5 after repeated misses", stats[signal.Distribution][1])
	}
	w := e.CurrentWeights()
	if w[signal.Volume] <= w[signal.Distribution] {
		t.Errorf("weights = %v, want Volume weighted above the missing Distribution detector", w[:2])
	}
}

func TestUpdateWithFeedback_HigherWeightMovesBanditArmFurther(t *testing.T) {
	eLow := New(1, 0.1, 1000, 1)
	eHigh := New(1, 0.1, 1000, 1)
	outputs := []DetectorOutput{{Detector: signal.Volume, Score: 0.9, Confidence: 0.9}}

	eLow.UpdateWithFeedback(outputs, true, 1)
	eHigh.UpdateWithFeedback(outputs, true, 10)

	alphasLow, _ := eLow.bandit.getParams()
	alphasHigh, _ := eHigh.bandit.getParams()
	if !(alphasHigh[0] > alphasLow[0]) {
		t.Fatalf("alpha after weight=10 feedback (%f) should exceed alpha after weight=1 feedback (%f)", alphasHigh[0], alphasLow[0])
	}
}

func TestUpdateWithFeedback_ZeroWeightTreatedAsOne(t *testing.T) {
	e := New(1, 0.1, 1000, 1)
	outputs := []DetectorOutput{{Detector: signal.Volume, Score: 0.9, Confidence: 0.9}}
	e.UpdateWithFeedback(outputs, true, 0)
	alphas, _ := e.bandit.getParams()
	if alphas[0] != 2.0 {
		t.Fatalf("alpha = %f, want 2.0: decay floored at 1.0, then +1 as if weight were 1", alphas[0])
	}
}

func TestUpdateThreshold_StaysAtFireThresholdBeforeHundredSamples(t *testing.T) {
	e := Default(1)
	for i := 0; i < 99; i++ {
		e.updateThreshold(0.99)
	}
	if e.Threshold() != fireThreshold {
		t.Fatalf("Threshold() = %f before 100 samples, want unchanged fireThreshold %f", e.Threshold(), fireThreshold)
	}
}

func TestUpdateThreshold_ActivatesAtHundredSamplesAndFloorsAtHalf(t *testing.T) {
	e := Default(1)
	for i := 0; i < 150; i++ {
		e.updateThreshold(0.01)
	}
	if e.Threshold() < 0.5 {
		t.Fatalf("Threshold() = %f, want floored at 0.5 even with a low-quantile stream", e.Threshold())
	}
}

func TestThompsonBandit_DecayFloorsAtOne(t *testing.T) {
	b := newThompsonBandit(2, newTestRand())
	for i := 0; i < 50; i++ {
		b.update(0, false, 1)
	}
	alphas, _ := b.getParams()
	if alphas[0] < 1.0 {
		t.Fatalf("alpha decayed below floor: %f", alphas[0])
	}
}

func TestThompsonBandit_SuccessRaisesExpectedWeight(t *testing.T) {
	b := newThompsonBandit(2, newTestRand())
	for i := 0; i < 20; i++ {
		b.update(0, true, 1)
		b.update(1, false, 1)
	}
	w := b.expectedWeights()
	if w[0] <= w[1] {
		t.Fatalf("expected arm 0 (all successes) to outweigh arm 1 (all failures): %v", w)
	}
}

func TestThompsonBandit_SampleWeightsSumToOne(t *testing.T) {
	b := newThompsonBandit(4, newTestRand())
	w := b.sampleWeights()
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("sampled weights sum to %f, want ~1.0", sum)
	}
}

func TestDetectorPerformance_PriorsBeforeAnyCalls(t *testing.T) {
	p := newDetectorPerformance()
	if p.precision() != 0.5 {
		t.Errorf("precision = %f, want 0.5 prior", p.precision())
	}
	if p.recall() != 0.5 {
		t.Errorf("recall = %f, want 0.5 prior", p.recall())
	}
}

func TestDetectorPerformance_PerfectDetectorHasF1One(t *testing.T) {
	p := newDetectorPerformance()
	for i := 0; i < 10; i++ {
		p.update(true, true, 0.9)
	}
	if p.f1Score() != 1.0 {
		t.Errorf("f1Score = %f, want 1.0 for a perfect detector", p.f1Score())
	}
}

func TestRestoreState_RejectsMismatchedLength(t *testing.T) {
	e := New(3, 0.1, 100, 1)
	ok := e.RestoreState([]float64{1, 1}, []float64{1, 1, 1}, []float64{1, 1, 1}, 0)
	if ok {
		t.Fatal("expected RestoreState to reject a weight vector of the wrong length")
	}
}

func TestRestoreState_NormalizesWeights(t *testing.T) {
	e := New(2, 0.1, 100, 1)
	ok := e.RestoreState([]float64{2, 2}, []float64{1, 1}, []float64{1, 1}, 42)
	if !ok {
		t.Fatal("expected RestoreState to succeed")
	}
	w := e.CurrentWeights()
	if w[0] != 0.5 || w[1] != 0.5 {
		t.Fatalf("weights = %v, want normalized to [0.5, 0.5]", w[:2])
	}
}

func TestReset_RestoresUniformWeights(t *testing.T) {
	e := New(2, 0.1, 2, 1)
	outputs := []DetectorOutput{
		{Detector: signal.Volume, Score: 0.9, Confidence: 0.9},
		{Detector: signal.Distribution, Score: 0.1, Confidence: 0.1},
	}
	e.UpdateWithFeedback(outputs, true, 1)
	e.UpdateWithFeedback(outputs, true, 1)

	e.Reset()
	w := e.CurrentWeights()
	if w[0] != 0.5 || w[1] != 0.5 {
		t.Fatalf("weights after Reset = %v, want [0.5, 0.5]", w[:2])
	}
}
