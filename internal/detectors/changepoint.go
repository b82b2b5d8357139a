package detectors

import (
	"encoding/json"

	"github.com/viacore/tier1-core/internal/primitives"
)

// ChangePointDetector feeds the EWMA-smoothed first difference of the
// value stream into its own CUSUM, catching level shifts (step changes in
// the mean) that a raw-value CUSUM would dilute against noise.
type ChangePointDetector struct {
	diffEwma    *primitives.EWMA
	cusum       *EnhancedCUSUM
	lastValue   float64
	hasLast     bool
	sampleCount int
}

// NewChangePointDetector builds a ChangePoint detector over first
// differences of the raw value stream.
func NewChangePointDetector() *ChangePointDetector {
	return &ChangePointDetector{
		diffEwma: primitives.NewEWMA(10),
		cusum:    NewEnhancedCUSUM(0, 1.0, 5.0),
	}
}

// Update folds in one event and returns the ChangePoint detector's output.
func (d *ChangePointDetector) Update(ctx Context) Output {
	d.sampleCount++
	if !d.hasLast {
		d.lastValue = ctx.Value
		d.hasLast = true
		return Neutral("changepoint", ctx.Value)
	}

	diff := ctx.Value - d.lastValue
	d.lastValue = ctx.Value
	smoothed := d.diffEwma.Update(diff)

	severity, fired := d.cusum.Update(smoothed)

	if d.sampleCount < 20 {
		return Neutral("changepoint", ctx.Value)
	}

	confidence := 0.6
	if fired {
		confidence = 0.85
	}

	return Output{
		DetectorID: "changepoint",
		Score:      clamp01(severity),
		Confidence: confidence,
		SignalType: "level_shift",
		Fired:      fired,
		Expected:   0.0,
		Observed:   smoothed,
	}
}

// changePointDetectorState is the serializable snapshot of a
// ChangePointDetector.
type changePointDetectorState struct {
	DiffEwma    primitives.EWMAState `json:"diff_ewma"`
	CUSUM       enhancedCUSUMState   `json:"cusum"`
	LastValue   float64              `json:"last_value"`
	HasLast     bool                 `json:"has_last"`
	SampleCount int                  `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *ChangePointDetector) Snapshot() ([]byte, error) {
	return json.Marshal(changePointDetectorState{
		DiffEwma:    d.diffEwma.Snapshot(),
		CUSUM:       d.cusum.snapshot(),
		LastValue:   d.lastValue,
		HasLast:     d.hasLast,
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *ChangePointDetector) Restore(data []byte) error {
	var s changePointDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.diffEwma.Restore(s.DiffEwma)
	d.cusum.restore(s.CUSUM)
	d.lastValue = s.LastValue
	d.hasLast = s.HasLast
	d.sampleCount = s.SampleCount
	return nil
}
