package primitives

import (
	"fmt"
	"math"
	"testing"
)

func TestHyperLogLog_EmptyEstimatesZero(t *testing.T) {
	h := NewHyperLogLog(10)
	if h.Count() != 0.0 {
		t.Errorf("expected empty HLL to estimate 0, got %f", h.Count())
	}
}

func TestHyperLogLog_EstimateWithinTolerance(t *testing.T) {
	h := NewHyperLogLog(12)
	const n = 50000
	for i := 0; i < n; i++ {
		h.Add(fmt.Sprintf("entity-%d", i))
	}
	est := h.Count()
	relErr := math.Abs(est-float64(n)) / float64(n)
	if relErr > 0.05 {
		t.Errorf("expected estimate within 5%% of %d, got %f (rel err %f)", n, est, relErr)
	}
}

func TestHyperLogLog_IdempotentOnRepeatHash(t *testing.T) {
	h := NewHyperLogLog(10)
	h.AddHash(0xdeadbeefcafef00d)
	before := h.Count()
	for i := 0; i < 10; i++ {
		h.AddHash(0xdeadbeefcafef00d)
	}
	after := h.Count()
	if before != after {
		t.Errorf("expected repeated identical hash to leave estimate unchanged, before=%f after=%f", before, after)
	}
}

func TestHyperLogLog_PrecisionClamped(t *testing.T) {
	low := NewHyperLogLog(1)
	if low.p != 4 {
		t.Errorf("expected precision clamped to 4, got %d", low.p)
	}
	high := NewHyperLogLog(200)
	if high.p != 16 {
		t.Errorf("expected precision clamped to 16, got %d", high.p)
	}
}

func TestHyperLogLog_SnapshotRestoreRoundTrip(t *testing.T) {
	h := NewHyperLogLog(10)
	for i := 0; i < 1000; i++ {
		h.Add(fmt.Sprintf("item-%d", i))
	}
	snap := h.Snapshot()

	restored := NewHyperLogLog(4)
	restored.Restore(snap)

	if restored.Count() != h.Count() {
		t.Errorf("expected restored count %f, got %f", h.Count(), restored.Count())
	}
}
