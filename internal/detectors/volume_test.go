package detectors

import "testing"

func TestVolumeDetector_SilentDuringWarmup(t *testing.T) {
	d := NewVolumeDetector()
	var ts uint64 = 1_000_000_000
	for i := 0; i < 50; i++ {
		out := d.Update(Context{TimestampNs: ts, Value: 1.0})
		if out.Fired {
			t.Fatalf("expected no detector to fire during warm-up, fired at sample %d", i)
		}
		ts += 10_000_000
	}
}

func TestVolumeDetector_FlagsSuddenRateSpike(t *testing.T) {
	d := NewVolumeDetector()
	var ts uint64 = 1_000_000_000
	for i := 0; i < 150; i++ {
		d.Update(Context{TimestampNs: ts, Value: 1.0})
		ts += 100_000_000 // steady ~10/s
	}

	fired := false
	for i := 0; i < 20; i++ {
		out := d.Update(Context{TimestampNs: ts, Value: 1.0})
		if out.Fired {
			fired = true
		}
		ts += 1_000_000 // sudden spike to ~1000/s
	}
	if !fired {
		t.Error("expected a sustained rate spike to eventually fire the Volume detector")
	}
}
