package detectors

import (
	"encoding/json"

	"github.com/viacore/tier1-core/internal/primitives"
)

const cardinalityWarmupSamples = 30

// CardinalityDetector adds each observed entity hash to a HyperLogLog and
// watches the velocity of distinct-value growth (the delta in estimated
// cardinality since the last event) against an EWMA baseline, flagging
// sudden explosions in distinct values per unit time (e.g. credential
// stuffing, enumeration).
type CardinalityDetector struct {
	hll          *primitives.HyperLogLog
	velocityEwma *primitives.EWMA
	threshold    *AdaptiveThreshold
	lastEstimate float64
	sampleCount  int
}

// NewCardinalityDetector builds a Cardinality detector at precision 12
// (roughly 1% relative error).
func NewCardinalityDetector() *CardinalityDetector {
	return &CardinalityDetector{
		hll:          primitives.NewHyperLogLog(12),
		velocityEwma: primitives.NewEWMA(20),
		threshold:    CardinalityThreshold(),
	}
}

// Update folds in one event and returns the Cardinality detector's output.
func (d *CardinalityDetector) Update(ctx Context) Output {
	d.sampleCount++
	d.hll.AddHash(ctx.EntityHash)
	estimate := d.hll.Count()
	delta := estimate - d.lastEstimate
	d.lastEstimate = estimate

	baseline := d.velocityEwma.Update(delta)

	if d.sampleCount < cardinalityWarmupSamples {
		return Neutral("cardinality", delta)
	}

	d.threshold.Update(delta)
	score := clamp01(d.threshold.AnomalyScore(delta))

	confidence := 0.85
	if baseline > 0 && delta > baseline*10.0 {
		confidence = 0.95
	}

	return Output{
		DetectorID: "cardinality",
		Score:      score,
		Confidence: confidence,
		SignalType: "cardinality_velocity",
		Fired:      d.threshold.IsAnomaly(delta),
		Expected:   baseline,
		Observed:   delta,
	}
}

// cardinalityDetectorState is the serializable snapshot of a
// CardinalityDetector.
type cardinalityDetectorState struct {
	HLL          primitives.HyperLogLogState `json:"hll"`
	VelocityEwma primitives.EWMAState        `json:"velocity_ewma"`
	Threshold    AdaptiveThresholdState       `json:"threshold"`
	LastEstimate float64                      `json:"last_estimate"`
	SampleCount  int                          `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *CardinalityDetector) Snapshot() ([]byte, error) {
	return json.Marshal(cardinalityDetectorState{
		HLL:          d.hll.Snapshot(),
		VelocityEwma: d.velocityEwma.Snapshot(),
		Threshold:    d.threshold.Snapshot(),
		LastEstimate: d.lastEstimate,
		SampleCount:  d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *CardinalityDetector) Restore(data []byte) error {
	var s cardinalityDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.hll.Restore(s.HLL)
	d.velocityEwma.Restore(s.VelocityEwma)
	d.threshold.Restore(s.Threshold)
	d.lastEstimate = s.LastEstimate
	d.sampleCount = s.SampleCount
	return nil
}
