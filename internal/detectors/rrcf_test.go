package detectors

import "testing"

func TestRRCFDetector_SilentUntilShingleWarm(t *testing.T) {
	d := NewRRCFDetector(42)
	for i := 0; i < 3; i++ {
		out := d.Update(Context{TimestampNs: uint64(i), Value: 1.0})
		if out.Fired {
			t.Fatal("expected no output before the shingle buffer fills")
		}
	}
}

func TestRRCFDetector_ScoreStaysBounded(t *testing.T) {
	d := NewRRCFDetector(7)
	for i := 0; i < 300; i++ {
		out := d.Update(Context{TimestampNs: uint64(i), Value: float64(i % 10)})
		if out.Score < 0 || out.Score > 1 {
			t.Fatalf("score %f out of [0,1] bounds at sample %d", out.Score, i)
		}
	}
}

func TestStreamingRRCF_IndependentPRNGPerInstance(t *testing.T) {
	a := NewStreamingRRCF(1)
	b := NewStreamingRRCF(2)
	// Different seeds should be usable independently without sharing state.
	for i := 0; i < 50; i++ {
		a.Update(float64(i))
		b.Update(float64(i) * 2)
	}
	if a == b {
		t.Fatal("expected distinct RRCF instances")
	}
}
