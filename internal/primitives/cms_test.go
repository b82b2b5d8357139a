package primitives

import "testing"

func TestCountMinSketch_EstimateNeverUnderCounts(t *testing.T) {
	c := NewDefaultCountMinSketch()
	const hash = uint64(123456789)
	const n = 37
	for i := 0; i < n; i++ {
		c.Increment(hash)
	}
	est := c.Estimate(hash)
	if est < n {
		t.Errorf("expected estimate >= %d (Count-Min never undercounts), got %d", n, est)
	}
}

func TestCountMinSketch_ContainsReflectsIncrements(t *testing.T) {
	c := NewDefaultCountMinSketch()
	if c.Contains(42) {
		t.Error("expected unseen hash to not be contained")
	}
	c.Increment(42)
	if !c.Contains(42) {
		t.Error("expected incremented hash to be contained")
	}
}

func TestCountMinSketch_ClearResetsCounters(t *testing.T) {
	c := NewDefaultCountMinSketch()
	c.Increment(7)
	c.Increment(7)
	c.Clear()
	if c.Estimate(7) != 0 {
		t.Errorf("expected estimate 0 after Clear, got %d", c.Estimate(7))
	}
}

func TestCountMinSketch_DistinctHashesRarelyCollideAtWidth(t *testing.T) {
	c := NewCountMinSketch(256, 4)
	for i := uint64(0); i < 20; i++ {
		c.Increment(i * 99991)
	}
	for i := uint64(0); i < 20; i++ {
		if c.Estimate(i*99991) < 1 {
			t.Errorf("expected hash %d to have estimate >= 1", i)
		}
	}
}

func TestCountMinSketch_SnapshotRestoreRoundTrip(t *testing.T) {
	c := NewCountMinSketch(32, 3)
	for i := 0; i < 10; i++ {
		c.Increment(uint64(i))
	}
	snap := c.Snapshot()

	restored := NewCountMinSketch(1, 1)
	restored.Restore(snap)

	for i := uint64(0); i < 10; i++ {
		if restored.Estimate(i) != c.Estimate(i) {
			t.Errorf("expected restored estimate for %d to match original", i)
		}
	}
}
