package detectors

import (
	"math"
	"sort"
)

// ThresholdMethod selects how AdaptiveThreshold turns observed values into
// a data-driven threshold, replacing the fixed multipliers ("20%", "5x")
// a hand-tuned detector would otherwise use.
type ThresholdMethod int

const (
	ThresholdEwmaSigma ThresholdMethod = iota
	ThresholdPercentile
	ThresholdMad
	ThresholdEnsemble
)

// AdaptiveThreshold tracks a running threshold over a scalar stream using
// one of four methods: EWMA mean + k*sigma, an online percentile window, a
// median-absolute-deviation robust estimator, or the median of all three.
type AdaptiveThreshold struct {
	method ThresholdMethod

	ewmaMean float64
	ewmaVar  float64
	alpha    float64

	percentileWindow []float64
	windowSize       int
	targetPercentile float64

	madHistory []float64
	madFactor  float64

	currentThreshold float64
	updateCount      uint64
	minThreshold     float64
	maxThreshold     float64

	sigmaMultiplier float64
}

// NewAdaptiveThreshold builds a threshold calculator with an explicit
// window size, EWMA alpha, and method.
func NewAdaptiveThreshold(windowSize int, alpha float64, method ThresholdMethod) *AdaptiveThreshold {
	ws := windowSize
	if ws < 10 {
		ws = 10
	}
	return &AdaptiveThreshold{
		method:           method,
		alpha:            clamp(alpha, 0.01, 0.5),
		percentileWindow: make([]float64, 0, ws),
		windowSize:       ws,
		targetPercentile: 0.95,
		madHistory:       make([]float64, 0, ws),
		madFactor:        3.0,
		minThreshold:     0.001,
		maxThreshold:     math.MaxFloat64,
		sigmaMultiplier:  2.0,
	}
}

// NewEwmaSigmaThreshold builds the most common variant: EWMA mean plus
// sigmaMultiplier standard deviations.
func NewEwmaSigmaThreshold(windowSize int, sigmaMultiplier float64) *AdaptiveThreshold {
	alpha := 2.0 / (float64(windowSize) + 1.0)
	t := NewAdaptiveThreshold(windowSize, alpha, ThresholdEwmaSigma)
	t.sigmaMultiplier = math.Max(sigmaMultiplier, 1.0)
	return t
}

// NewPercentileThreshold builds a non-parametric percentile-window variant.
func NewPercentileThreshold(windowSize int, targetPercentile float64) *AdaptiveThreshold {
	t := NewAdaptiveThreshold(windowSize, 0.1, ThresholdPercentile)
	t.targetPercentile = clamp(targetPercentile, 0.5, 0.999)
	return t
}

// NewMadThreshold builds a median-absolute-deviation variant, robust to
// outliers in the training stream itself.
func NewMadThreshold(windowSize int, madFactor float64) *AdaptiveThreshold {
	t := NewAdaptiveThreshold(windowSize, 0.1, ThresholdMad)
	t.madFactor = math.Max(madFactor, 1.0)
	return t
}

// NewEnsembleThreshold combines all three methods via their median, a
// conservative consensus threshold.
func NewEnsembleThreshold(windowSize int) *AdaptiveThreshold {
	return NewAdaptiveThreshold(windowSize, 0.1, ThresholdEnsemble)
}

// Update folds value into the calculator's running statistics and returns
// the newly recomputed threshold.
func (t *AdaptiveThreshold) Update(value float64) float64 {
	t.updateCount++
	t.updateEwma(value)
	t.updateWindows(value)

	switch t.method {
	case ThresholdEwmaSigma:
		t.currentThreshold = t.ewmaThreshold(t.sigmaMultiplier)
	case ThresholdPercentile:
		t.currentThreshold = t.percentileThreshold()
	case ThresholdMad:
		t.currentThreshold = t.madThreshold()
	default:
		t.currentThreshold = t.ensembleThreshold()
	}

	t.currentThreshold = clamp(t.currentThreshold, t.minThreshold, t.maxThreshold)
	return t.currentThreshold
}

// IsAnomaly reports whether value exceeds the current threshold.
func (t *AdaptiveThreshold) IsAnomaly(value float64) bool { return value > t.currentThreshold }

// AnomalyScore returns 0 for values at or below the threshold, rising
// linearly to 0.5 at 2x the threshold and to 1.0 at 3x, capped there.
func (t *AdaptiveThreshold) AnomalyScore(value float64) float64 {
	if t.currentThreshold <= 0.0 {
		return 0.0
	}
	ratio := value / t.currentThreshold
	if ratio <= 1.0 {
		return 0.0
	}
	return math.Min(ratio-1.0, 2.0) / 2.0
}

func (t *AdaptiveThreshold) updateEwma(value float64) {
	if t.updateCount == 1 {
		t.ewmaMean = value
		t.ewmaVar = 0.0
		return
	}
	diff := value - t.ewmaMean
	t.ewmaMean += t.alpha * diff
	t.ewmaVar = (1.0 - t.alpha) * (t.ewmaVar + t.alpha*diff*diff)
}

func (t *AdaptiveThreshold) updateWindows(value float64) {
	t.percentileWindow = append(t.percentileWindow, value)
	if len(t.percentileWindow) > t.windowSize {
		t.percentileWindow = t.percentileWindow[1:]
	}

	if len(t.percentileWindow) > 0 {
		median := medianOf(t.percentileWindow)
		t.madHistory = append(t.madHistory, math.Abs(value-median))
		if len(t.madHistory) > t.windowSize {
			t.madHistory = t.madHistory[1:]
		}
	}
}

func (t *AdaptiveThreshold) ewmaThreshold(sigmaMultiplier float64) float64 {
	std := math.Max(math.Sqrt(t.ewmaVar), t.minThreshold)
	return t.ewmaMean + sigmaMultiplier*std
}

func (t *AdaptiveThreshold) percentileThreshold() float64 {
	if len(t.percentileWindow) < 10 {
		return t.ewmaMean * 2.0
	}
	sorted := append([]float64(nil), t.percentileWindow...)
	sort.Float64s(sorted)
	idx := int(t.targetPercentile * float64(len(sorted)-1))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (t *AdaptiveThreshold) madThreshold() float64 {
	if len(t.madHistory) < 10 {
		return t.ewmaMean * 2.0
	}
	median := medianOf(t.percentileWindow)
	mad := medianOf(t.madHistory)
	robustStd := mad * 1.4826
	return median + t.madFactor*robustStd
}

func (t *AdaptiveThreshold) ensembleThreshold() float64 {
	values := []float64{t.ewmaThreshold(3.0), t.percentileThreshold(), t.madThreshold()}
	sort.Float64s(values)
	return values[1]
}

func medianOf(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

// Stats returns (ewmaMean, ewmaStdDev, currentThreshold, updateCount).
func (t *AdaptiveThreshold) Stats() (float64, float64, float64, uint64) {
	return t.ewmaMean, math.Sqrt(t.ewmaVar), t.currentThreshold, t.updateCount
}

// SetMinThreshold sets the floor below which the threshold may not fall.
func (t *AdaptiveThreshold) SetMinThreshold(min float64) { t.minThreshold = math.Max(min, 0.0) }

// SetMaxThreshold sets the ceiling above which the threshold may not rise.
func (t *AdaptiveThreshold) SetMaxThreshold(max float64) {
	t.maxThreshold = math.Max(max, t.minThreshold)
}

// Reset clears all accumulated statistics.
func (t *AdaptiveThreshold) Reset() {
	t.ewmaMean = 0.0
	t.ewmaVar = 0.0
	t.percentileWindow = t.percentileWindow[:0]
	t.madHistory = t.madHistory[:0]
	t.currentThreshold = 0.0
	t.updateCount = 0
}

// AdaptiveThresholdState is the serializable snapshot of an
// AdaptiveThreshold.
type AdaptiveThresholdState struct {
	Method           ThresholdMethod `json:"method"`
	EwmaMean         float64         `json:"ewma_mean"`
	EwmaVar          float64         `json:"ewma_var"`
	Alpha            float64         `json:"alpha"`
	PercentileWindow []float64       `json:"percentile_window"`
	WindowSize       int             `json:"window_size"`
	TargetPercentile float64         `json:"target_percentile"`
	MadHistory       []float64       `json:"mad_history"`
	MadFactor        float64         `json:"mad_factor"`
	CurrentThreshold float64         `json:"current_threshold"`
	UpdateCount      uint64          `json:"update_count"`
	MinThreshold     float64         `json:"min_threshold"`
	MaxThreshold     float64         `json:"max_threshold"`
	SigmaMultiplier  float64         `json:"sigma_multiplier"`
}

// Snapshot returns the current state for serialization.
func (t *AdaptiveThreshold) Snapshot() AdaptiveThresholdState {
	return AdaptiveThresholdState{
		Method:           t.method,
		EwmaMean:         t.ewmaMean,
		EwmaVar:          t.ewmaVar,
		Alpha:            t.alpha,
		PercentileWindow: append([]float64(nil), t.percentileWindow...),
		WindowSize:       t.windowSize,
		TargetPercentile: t.targetPercentile,
		MadHistory:       append([]float64(nil), t.madHistory...),
		MadFactor:        t.madFactor,
		CurrentThreshold: t.currentThreshold,
		UpdateCount:      t.updateCount,
		MinThreshold:     t.minThreshold,
		MaxThreshold:     t.maxThreshold,
		SigmaMultiplier:  t.sigmaMultiplier,
	}
}

// Restore replaces the threshold's state with a previously captured
// snapshot.
func (t *AdaptiveThreshold) Restore(s AdaptiveThresholdState) {
	t.method = s.Method
	t.ewmaMean = s.EwmaMean
	t.ewmaVar = s.EwmaVar
	t.alpha = s.Alpha
	t.percentileWindow = append(t.percentileWindow[:0], s.PercentileWindow...)
	t.windowSize = s.WindowSize
	t.targetPercentile = s.TargetPercentile
	t.madHistory = append(t.madHistory[:0], s.MadHistory...)
	t.madFactor = s.MadFactor
	t.currentThreshold = s.CurrentThreshold
	t.updateCount = s.UpdateCount
	t.minThreshold = s.MinThreshold
	t.maxThreshold = s.MaxThreshold
	t.sigmaMultiplier = s.SigmaMultiplier
}

// VolumeThreshold is the preset for Volume/RPS detection: responsive,
// 2-sigma.
func VolumeThreshold() *AdaptiveThreshold { return NewEwmaSigmaThreshold(50, 2.0) }

// DistributionThreshold is the preset for value-distribution detection:
// conservative, 3-sigma.
func DistributionThreshold() *AdaptiveThreshold { return NewEwmaSigmaThreshold(100, 3.0) }

// CardinalityThreshold is the preset for cardinality-velocity detection:
// percentile-based, 95th.
func CardinalityThreshold() *AdaptiveThreshold { return NewPercentileThreshold(100, 0.95) }

// BurstThreshold is the preset for burst detection: MAD-based, robust to
// outliers.
func BurstThreshold() *AdaptiveThreshold { return NewMadThreshold(50, 3.0) }

// ConservativeThreshold is the ensemble preset combining all three methods.
func ConservativeThreshold() *AdaptiveThreshold { return NewEnsembleThreshold(100) }
