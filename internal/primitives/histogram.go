package primitives

import "math"

// FadingHistogram is a log-binned histogram whose bin weights decay
// geometrically on every update, so recent observations dominate the
// estimated distribution. It is cheap (fixed-size float64 slice) and well
// suited to wide-dynamic-range values such as latencies or payload sizes.
type FadingHistogram struct {
	decay    float64
	bins     []float64
	minVal   float64
	maxVal   float64
	numBins  int
	totalWgt float64
}

// NewFadingHistogram builds a histogram with numBins log-spaced buckets
// covering [minVal, maxVal], decaying all bin weights by decay on each
// update. decay must be in (0, 1).
func NewFadingHistogram(numBins int, minVal, maxVal, decay float64) *FadingHistogram {
	if numBins <= 0 {
		panic("primitives: FadingHistogram numBins must be positive")
	}
	if decay <= 0 || decay >= 1 {
		panic("primitives: FadingHistogram decay must be in (0,1)")
	}
	if minVal <= 0 {
		minVal = 0.1 // avoid log(0)
	}
	return &FadingHistogram{
		decay:   decay,
		bins:    make([]float64, numBins),
		minVal:  minVal,
		maxVal:  maxVal,
		numBins: numBins,
	}
}

func (h *FadingHistogram) binIndex(value float64) int {
	if value <= h.minVal {
		return 0
	}
	if value >= h.maxVal {
		return h.numBins - 1
	}
	logMin := math.Log(h.minVal)
	logMax := math.Log(h.maxVal)
	logVal := math.Log(value)
	ratio := (logVal - logMin) / (logMax - logMin)
	idx := int(ratio * float64(h.numBins))
	if idx >= h.numBins {
		idx = h.numBins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Update folds value into the histogram and returns an unbounded "rarity"
// score: the inverse probability of the bin the value landed in, capped at
// 100 to avoid blowing up on an empty histogram.
func (h *FadingHistogram) Update(value float64) float64 {
	idx := h.binIndex(value)

	prob := 1.0
	if h.totalWgt > 0 {
		prob = h.bins[idx] / h.totalWgt
	}

	h.totalWgt *= h.decay
	for i := range h.bins {
		h.bins[i] *= h.decay
	}

	h.bins[idx]++
	h.totalWgt++

	if prob < 0.001 {
		return 100.0
	}
	return 1.0 / prob
}

// RarityScore reports how unusual value is relative to the histogram's
// current distribution, normalized to [0,1] (0 = common, 1 = extremely
// rare), without mutating state.
func (h *FadingHistogram) RarityScore(value float64) float64 {
	idx := h.binIndex(value)

	prob := 0.5
	if h.totalWgt > 0 {
		prob = h.bins[idx] / h.totalWgt
	}

	switch {
	case prob > 0.5:
		return 0.0
	case prob < 0.001:
		return 1.0
	default:
		return 1.0 - prob*2.0
	}
}

// Value returns a weighted average of bin centers, an EWMA-like summary of
// recent values.
func (h *FadingHistogram) Value() float64 {
	if h.totalWgt == 0 {
		return 0.0
	}
	var sum, weight float64
	ratio := h.maxVal / h.minVal
	for i, count := range h.bins {
		binStart := h.minVal * math.Pow(ratio, float64(i)/float64(h.numBins))
		binEnd := h.minVal * math.Pow(ratio, float64(i+1)/float64(h.numBins))
		center := math.Sqrt(binStart * binEnd)
		sum += count * center
		weight += count
	}
	if weight > 0 {
		return sum / weight
	}
	return 0.0
}

// FadingHistogramState is the serializable snapshot of a FadingHistogram.
type FadingHistogramState struct {
	Decay       float64   `json:"decay"`
	Bins        []float64 `json:"bins"`
	MinVal      float64   `json:"min_val"`
	MaxVal      float64   `json:"max_val"`
	NumBins     int       `json:"num_bins"`
	TotalWeight float64   `json:"total_weight"`
}

// Snapshot returns the current state for serialization.
func (h *FadingHistogram) Snapshot() FadingHistogramState {
	bins := make([]float64, len(h.bins))
	copy(bins, h.bins)
	return FadingHistogramState{
		Decay: h.decay, Bins: bins, MinVal: h.minVal, MaxVal: h.maxVal,
		NumBins: h.numBins, TotalWeight: h.totalWgt,
	}
}

// Restore replaces the histogram's state with a previously captured snapshot.
func (h *FadingHistogram) Restore(s FadingHistogramState) {
	h.decay = s.Decay
	h.bins = append(h.bins[:0], s.Bins...)
	h.minVal = s.MinVal
	h.maxVal = s.MaxVal
	h.numBins = s.NumBins
	h.totalWgt = s.TotalWeight
}
