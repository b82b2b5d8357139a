package primitives

import "testing"

func TestFadingHistogram_RarityDecreasesAsCommonValueRepeats(t *testing.T) {
	h := NewFadingHistogram(20, 1.0, 1000.0, 0.99)

	first := h.Update(50.0)
	for i := 0; i < 50; i++ {
		h.Update(50.0)
	}
	last := h.RarityScore(50.0)

	if last >= first {
		t.Errorf("expected rarity of a repeated value to fall, first=%f last=%f", first, last)
	}
}

func TestFadingHistogram_RareValueScoresHigh(t *testing.T) {
	h := NewFadingHistogram(20, 1.0, 1000.0, 0.99)
	for i := 0; i < 100; i++ {
		h.Update(50.0)
	}
	score := h.RarityScore(999.0)
	if score < 0.5 {
		t.Errorf("expected an unseen extreme value to score as rare, got %f", score)
	}
}

func TestFadingHistogram_RarityScoreIsBounded(t *testing.T) {
	h := NewFadingHistogram(10, 1.0, 100.0, 0.9)
	for i := 0; i < 30; i++ {
		h.Update(float64(i % 100))
		score := h.RarityScore(float64(i))
		if score < 0.0 || score > 1.0 {
			t.Fatalf("rarity score %f out of [0,1] bounds", score)
		}
	}
}

func TestFadingHistogram_PanicsOnBadDecay(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for decay outside (0,1)")
		}
	}()
	NewFadingHistogram(10, 1.0, 100.0, 1.5)
}

func TestFadingHistogram_SnapshotRestoreRoundTrip(t *testing.T) {
	h := NewFadingHistogram(16, 1.0, 500.0, 0.95)
	for i := 0; i < 40; i++ {
		h.Update(float64(i * 3))
	}
	snap := h.Snapshot()

	restored := NewFadingHistogram(1, 1.0, 2.0, 0.5)
	restored.Restore(snap)

	if restored.Value() != h.Value() {
		t.Errorf("expected restored value %f, got %f", h.Value(), restored.Value())
	}
	if restored.RarityScore(42.0) != h.RarityScore(42.0) {
		t.Error("expected restored rarity score to match original")
	}
}
