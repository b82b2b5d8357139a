package detectors

import (
	"encoding/json"
	"math"
)

// driftType ranks the three drift kinds this package's ensemble can
// distinguish, used to pick one label when more than one sub-detector
// votes at once.
type driftType int

const (
	driftNone driftType = iota
	driftIncremental
	driftGradual
	driftSudden
)

const adwinMinWindow = 30

// adwin is an adaptive windowing drift detector: it compares the mean of a
// growing "reference" window against a "current" window, and signals
// drift when their difference exceeds a confidence bound derived from the
// Hoeffding-style bound scaled by delta.
type adwin struct {
	refSum, refSumSq   float64
	refCount           int
	currSum, currSumSq float64
	currCount          int
	maxWindowSize      int
	delta              float64
}

func newADWIN(maxWindowSize int, delta float64) *adwin {
	return &adwin{maxWindowSize: maxWindowSize, delta: delta}
}

func (a *adwin) update(value float64) bool {
	a.currSum += value
	a.currSumSq += value * value
	a.currCount++

	if a.currCount < adwinMinWindow || a.refCount < adwinMinWindow {
		if a.refCount < adwinMinWindow {
			a.refSum += value
			a.refSumSq += value * value
			a.refCount++
		}
		return false
	}

	refMean := a.refSum / float64(a.refCount)
	currMean := a.currSum / float64(a.currCount)

	m := 1.0/float64(a.refCount) + 1.0/float64(a.currCount)
	epsilon := math.Sqrt(2*m*math.Log(2/a.delta)) + (2.0/3.0)*m*math.Log(2/a.delta)

	if math.Abs(refMean-currMean) > epsilon {
		a.refSum, a.refSumSq, a.refCount = a.currSum, a.currSumSq, a.currCount
		a.currSum, a.currSumSq, a.currCount = 0, 0, 0
		return true
	}

	if a.currCount >= a.maxWindowSize {
		a.refSum, a.refSumSq, a.refCount = a.currSum, a.currSumSq, a.currCount
		a.currSum, a.currSumSq, a.currCount = 0, 0, 0
	}
	return false
}

// pageHinkley accumulates deviations from a running mean and signals
// drift when the gap between the cumulative sum and its running minimum
// exceeds a threshold, catching gradual drift ADWIN's window comparison
// can miss.
type pageHinkley struct {
	cumSum    float64
	minCumSum float64
	mean      float64
	count     int
	threshold float64
	lambda    float64
	alpha     float64
}

func newPageHinkley(threshold, lambda float64) *pageHinkley {
	return &pageHinkley{threshold: threshold, lambda: lambda, alpha: 0.01}
}

func (p *pageHinkley) update(value float64) bool {
	p.count++
	if p.count == 1 {
		p.mean = value
	} else {
		p.mean += p.alpha * (value - p.mean)
	}

	p.cumSum += value - p.mean - p.lambda
	if p.cumSum < p.minCumSum {
		p.minCumSum = p.cumSum
	}

	if p.cumSum-p.minCumSum > p.threshold {
		p.cumSum = 0
		p.minCumSum = 0
		return true
	}
	return false
}

const klDivergenceBins = 10

// klDivergenceDetector compares a reference and current value histogram
// via KL divergence, catching distributional drift that a mean-based
// detector cannot see (same mean, different shape).
type klDivergenceDetector struct {
	refHist, currHist         [klDivergenceBins]float64
	minVal, maxVal            float64
	threshold                 float64
	currentCount, targetCount int
	epsilon                   float64
}

func newKLDivergenceDetector(minVal, maxVal, threshold float64, targetCount int) *klDivergenceDetector {
	return &klDivergenceDetector{minVal: minVal, maxVal: maxVal, threshold: threshold, targetCount: targetCount, epsilon: 1e-6}
}

func (k *klDivergenceDetector) bin(value float64) int {
	if value <= k.minVal {
		return 0
	}
	if value >= k.maxVal {
		return klDivergenceBins - 1
	}
	idx := int((value - k.minVal) / (k.maxVal - k.minVal) * float64(klDivergenceBins))
	if idx >= klDivergenceBins {
		idx = klDivergenceBins - 1
	}
	return idx
}

func (k *klDivergenceDetector) update(value float64) bool {
	idx := k.bin(value)
	k.currHist[idx]++
	k.currentCount++

	if k.currentCount < k.targetCount {
		return false
	}

	drift := k.computeKL() > k.threshold
	if drift {
		k.refHist = k.currHist
	} else {
		for i := range k.refHist {
			k.refHist[i] = 0.9*k.refHist[i] + 0.1*k.currHist[i]
		}
	}
	k.currHist = [klDivergenceBins]float64{}
	k.currentCount = 0
	return drift
}

func (k *klDivergenceDetector) computeKL() float64 {
	var refTotal, currTotal float64
	for i := 0; i < klDivergenceBins; i++ {
		refTotal += k.refHist[i]
		currTotal += k.currHist[i]
	}
	if refTotal == 0 || currTotal == 0 {
		return 0
	}

	var kl float64
	for i := 0; i < klDivergenceBins; i++ {
		p := k.currHist[i]/currTotal + k.epsilon
		q := k.refHist[i]/refTotal + k.epsilon
		kl += p * math.Log(p/q)
	}
	return kl
}

// DriftDetector ensembles ADWIN (sudden), Page-Hinkley (gradual), and KL
// divergence (incremental distributional shift) into a single drift
// score, resolving competing signals by priority Sudden > Gradual >
// Incremental.
type DriftDetector struct {
	adwin       *adwin
	pageHinkley *pageHinkley
	klDiv       *klDivergenceDetector
	sampleCount int
}

// NewDriftDetector builds a Drift detector with a value range hint for its
// KL-divergence histogram.
func NewDriftDetector(minVal, maxVal float64) *DriftDetector {
	return &DriftDetector{
		adwin:       newADWIN(1000, 0.002),
		pageHinkley: newPageHinkley(20.0, 0.005),
		klDiv:       newKLDivergenceDetector(minVal, maxVal, 0.5, 50),
	}
}

// Update folds in one event and returns the Drift detector's output.
func (d *DriftDetector) Update(ctx Context) Output {
	d.sampleCount++

	suddenDrift := d.adwin.update(ctx.Value)
	gradualDrift := d.pageHinkley.update(ctx.Value)
	incrementalDrift := d.klDiv.update(ctx.Value)

	if d.sampleCount < adwinMinWindow*2 {
		return Neutral("drift", ctx.Value)
	}

	kind := driftNone
	switch {
	case suddenDrift:
		kind = driftSudden
	case gradualDrift:
		kind = driftGradual
	case incrementalDrift:
		kind = driftIncremental
	}

	var score float64
	switch kind {
	case driftSudden:
		score = 0.9
	case driftGradual:
		score = 0.6
	case driftIncremental:
		score = 0.4
	}

	return Output{
		DetectorID: "drift",
		Score:      score,
		Confidence: 0.7,
		SignalType: "concept_drift",
		Fired:      kind != driftNone,
		Expected:   0.0,
		Observed:   ctx.Value,
	}
}

// adwinState is the serializable snapshot of an adwin.
type adwinState struct {
	RefSum    float64 `json:"ref_sum"`
	RefSumSq  float64 `json:"ref_sum_sq"`
	RefCount  int     `json:"ref_count"`
	CurrSum   float64 `json:"curr_sum"`
	CurrSumSq float64 `json:"curr_sum_sq"`
	CurrCount int     `json:"curr_count"`
}

func (a *adwin) snapshot() adwinState {
	return adwinState{
		RefSum: a.refSum, RefSumSq: a.refSumSq, RefCount: a.refCount,
		CurrSum: a.currSum, CurrSumSq: a.currSumSq, CurrCount: a.currCount,
	}
}

func (a *adwin) restore(s adwinState) {
	a.refSum, a.refSumSq, a.refCount = s.RefSum, s.RefSumSq, s.RefCount
	a.currSum, a.currSumSq, a.currCount = s.CurrSum, s.CurrSumSq, s.CurrCount
}

// pageHinkleyState is the serializable snapshot of a pageHinkley.
type pageHinkleyState struct {
	CumSum    float64 `json:"cum_sum"`
	MinCumSum float64 `json:"min_cum_sum"`
	Mean      float64 `json:"mean"`
	Count     int     `json:"count"`
}

func (p *pageHinkley) snapshot() pageHinkleyState {
	return pageHinkleyState{CumSum: p.cumSum, MinCumSum: p.minCumSum, Mean: p.mean, Count: p.count}
}

func (p *pageHinkley) restore(s pageHinkleyState) {
	p.cumSum, p.minCumSum, p.mean, p.count = s.CumSum, s.MinCumSum, s.Mean, s.Count
}

// klDivergenceDetectorState is the serializable snapshot of a
// klDivergenceDetector.
type klDivergenceDetectorState struct {
	RefHist      [klDivergenceBins]float64 `json:"ref_hist"`
	CurrHist     [klDivergenceBins]float64 `json:"curr_hist"`
	CurrentCount int                       `json:"current_count"`
}

func (k *klDivergenceDetector) snapshot() klDivergenceDetectorState {
	return klDivergenceDetectorState{RefHist: k.refHist, CurrHist: k.currHist, CurrentCount: k.currentCount}
}

func (k *klDivergenceDetector) restore(s klDivergenceDetectorState) {
	k.refHist = s.RefHist
	k.currHist = s.CurrHist
	k.currentCount = s.CurrentCount
}

// driftDetectorState is the serializable snapshot of a DriftDetector.
type driftDetectorState struct {
	ADWIN       adwinState                `json:"adwin"`
	PageHinkley pageHinkleyState          `json:"page_hinkley"`
	KLDiv       klDivergenceDetectorState `json:"kl_div"`
	SampleCount int                       `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *DriftDetector) Snapshot() ([]byte, error) {
	return json.Marshal(driftDetectorState{
		ADWIN:       d.adwin.snapshot(),
		PageHinkley: d.pageHinkley.snapshot(),
		KLDiv:       d.klDiv.snapshot(),
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *DriftDetector) Restore(data []byte) error {
	var s driftDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.adwin.restore(s.ADWIN)
	d.pageHinkley.restore(s.PageHinkley)
	d.klDiv.restore(s.KLDiv)
	d.sampleCount = s.SampleCount
	return nil
}
