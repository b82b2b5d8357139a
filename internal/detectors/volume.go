package detectors

import (
	"encoding/json"
	"math"

	"github.com/viacore/tier1-core/internal/primitives"
)

const volumeWarmupSamples = 100

// VolumeDetector watches per-entity inter-arrival rate: it folds the
// instantaneous rate into an EWMA, feeds that into an hourly-seasonal
// Holt-Winters forecaster, and scores the forecast deviation against an
// adaptive EWMA-sigma threshold. Silent until 100 samples have been seen.
type VolumeDetector struct {
	ewma        *primitives.EWMA
	hw          *HoltWinters
	threshold   *AdaptiveThreshold
	lastTsNs    uint64
	sampleCount int
}

// NewVolumeDetector builds a Volume detector with a period-24 seasonal
// cycle over the rate stream (one seasonal phase per update).
func NewVolumeDetector() *VolumeDetector {
	return &VolumeDetector{
		ewma:      primitives.NewEWMA(20),
		hw:        NewHoltWinters(0.3, 0.1, 0.05, 24),
		threshold: VolumeThreshold(),
	}
}

// Update folds in one event and returns the Volume detector's output.
func (d *VolumeDetector) Update(ctx Context) Output {
	if d.lastTsNs == 0 {
		d.lastTsNs = ctx.TimestampNs
		d.sampleCount++
		return Neutral("volume", 0)
	}

	deltaNs := ctx.TimestampNs - d.lastTsNs
	d.lastTsNs = ctx.TimestampNs
	d.sampleCount++

	var rate float64
	if deltaNs > 0 {
		rate = 1e9 / float64(deltaNs)
	}

	smoothed := d.ewma.Update(rate)
	prediction, deviation := d.hw.Update(smoothed)

	if d.sampleCount < volumeWarmupSamples {
		return Neutral("volume", rate)
	}

	absDeviation := math.Abs(deviation)
	d.threshold.Update(absDeviation)
	score := clamp01(d.threshold.AnomalyScore(absDeviation))

	relError := 0.0
	if prediction > 0 {
		relError = absDeviation / prediction
	}
	confidence := 0.5
	switch {
	case relError > 1.0:
		confidence = 0.9
	case relError > 0.5:
		confidence = 0.7
	}

	return Output{
		DetectorID: "volume",
		Score:      score,
		Confidence: confidence,
		SignalType: "rate_deviation",
		Fired:      d.threshold.IsAnomaly(absDeviation),
		Expected:   prediction,
		Observed:   rate,
	}
}

// volumeDetectorState is the serializable snapshot of a VolumeDetector.
type volumeDetectorState struct {
	Ewma        primitives.EWMAState   `json:"ewma"`
	HW          HoltWintersState       `json:"hw"`
	Threshold   AdaptiveThresholdState `json:"threshold"`
	LastTsNs    uint64                 `json:"last_ts_ns"`
	SampleCount int                    `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *VolumeDetector) Snapshot() ([]byte, error) {
	return json.Marshal(volumeDetectorState{
		Ewma:        d.ewma.Snapshot(),
		HW:          d.hw.Snapshot(),
		Threshold:   d.threshold.Snapshot(),
		LastTsNs:    d.lastTsNs,
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *VolumeDetector) Restore(data []byte) error {
	var s volumeDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.ewma.Restore(s.Ewma)
	d.hw.Restore(s.HW)
	d.threshold.Restore(s.Threshold)
	d.lastTsNs = s.LastTsNs
	d.sampleCount = s.SampleCount
	return nil
}
