package detectors

import (
	"encoding/json"
	"math"

	"github.com/viacore/tier1-core/internal/primitives"
)

const distributionWarmupSamples = 30

// DistributionDetector tracks the fading distribution of raw event values
// and scores how unusual the current value's bucket rarity is against an
// adaptive EWMA-sigma threshold over rarity itself.
type DistributionDetector struct {
	histogram   *primitives.FadingHistogram
	threshold   *AdaptiveThreshold
	sampleCount int
}

// NewDistributionDetector builds a Distribution detector over a wide
// dynamic-range value histogram.
func NewDistributionDetector() *DistributionDetector {
	return &DistributionDetector{
		histogram: primitives.NewFadingHistogram(30, 0.01, 1e9, 0.995),
		threshold: DistributionThreshold(),
	}
}

// Update folds in one event and returns the Distribution detector's
// output.
func (d *DistributionDetector) Update(ctx Context) Output {
	d.sampleCount++
	rarity := d.histogram.Update(ctx.Value)

	if d.sampleCount < distributionWarmupSamples {
		return Neutral("distribution", ctx.Value)
	}

	d.threshold.Update(rarity)
	score := clamp01(d.threshold.AnomalyScore(rarity))

	rarityNorm := d.histogram.RarityScore(ctx.Value)
	confidence := 0.4
	if rarityNorm > 0.5 {
		confidence = 0.95 - 0.55*(1.0-math.Min(rarityNorm, 1.0))
	}

	return Output{
		DetectorID: "distribution",
		Score:      score,
		Confidence: clamp01(confidence),
		SignalType: "value_rarity",
		Fired:      d.threshold.IsAnomaly(rarity),
		Expected:   d.histogram.Value(),
		Observed:   ctx.Value,
	}
}

// distributionDetectorState is the serializable snapshot of a
// DistributionDetector.
type distributionDetectorState struct {
	Histogram   primitives.FadingHistogramState `json:"histogram"`
	Threshold   AdaptiveThresholdState          `json:"threshold"`
	SampleCount int                             `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *DistributionDetector) Snapshot() ([]byte, error) {
	return json.Marshal(distributionDetectorState{
		Histogram:   d.histogram.Snapshot(),
		Threshold:   d.threshold.Snapshot(),
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *DistributionDetector) Restore(data []byte) error {
	var s distributionDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.histogram.Restore(s.Histogram)
	d.threshold.Restore(s.Threshold)
	d.sampleCount = s.SampleCount
	return nil
}
