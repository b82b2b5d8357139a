// Package ensemble blends the ten detectors' independent outputs into a
// single anomaly score and confidence, and adapts each detector's
// influence over time from operator feedback.
package ensemble

import (
	"math"
	"math/rand"

	"github.com/viacore/tier1-core/internal/primitives"
	"github.com/viacore/tier1-core/internal/signal"
)

const (
	defaultExplorationRate = 0.1
	defaultUpdateInterval  = 100
	fireThreshold          = 0.5
	thresholdQuantile      = 0.95
)

// DetectorOutput is the minimal per-detector fact the ensemble needs: which
// detector, how anomalous it thinks the event is, and how confident it is.
type DetectorOutput struct {
	Detector   signal.DetectorID
	Score      float64
	Confidence float64
}

// AdaptiveEnsemble combines per-detector scores into one ensemble score,
// tracks a running anomaly threshold via a P² quantile estimator, and
// reweights the detectors between a Thompson-sampled exploration weight and
// an F1-score exploitation weight as feedback arrives.
type AdaptiveEnsemble struct {
	numDetectors    int
	performance     []*detectorPerformance
	bandit          *thompsonBandit
	currentWeights  [signal.NumDetectors]float64
	explorationRate float64
	updateCount     uint64
	updateInterval  int
	threshold       *primitives.P2Quantile
	currentThresh   float64
}

// New builds an ensemble over numDetectors (clamped to [1, NumDetectors])
// with the given exploration rate and feedback-batch interval.
func New(numDetectors int, explorationRate float64, updateInterval int, seed int64) *AdaptiveEnsemble {
	if numDetectors < 1 {
		numDetectors = 1
	}
	if numDetectors > signal.NumDetectors {
		numDetectors = signal.NumDetectors
	}

	performance := make([]*detectorPerformance, numDetectors)
	for i := range performance {
		performance[i] = newDetectorPerformance()
	}

	e := &AdaptiveEnsemble{
		numDetectors:    numDetectors,
		performance:     performance,
		bandit:          newThompsonBandit(numDetectors, rand.New(rand.NewSource(seed))),
		explorationRate: explorationRate,
		updateInterval:  updateInterval,
		threshold:       primitives.NewP2Quantile(thresholdQuantile),
		currentThresh:   fireThreshold,
	}
	uniform := 1.0 / float64(numDetectors)
	for i := 0; i < numDetectors; i++ {
		e.currentWeights[i] = uniform
	}
	return e
}

// Default builds an ensemble over all ten detectors with the standard
// exploration rate and a feedback-batch size of 100.
func Default(seed int64) *AdaptiveEnsemble {
	return New(signal.NumDetectors, defaultExplorationRate, defaultUpdateInterval, seed)
}

// Combine folds this event's per-detector outputs into one ensemble score
// and confidence, and advances the adaptive threshold estimator.
func (e *AdaptiveEnsemble) Combine(outputs []DetectorOutput) (score, confidence float64) {
	var weightedScore, totalWeight float64
	var triggered int
	var confidenceSum float64

	for _, out := range outputs {
		if int(out.Detector) >= e.numDetectors {
			continue
		}
		w := e.currentWeights[out.Detector]
		weightedScore += out.Score * w
		totalWeight += w
		confidenceSum += out.Confidence
		if out.Score > fireThreshold {
			triggered++
		}
	}

	if totalWeight > 0 {
		score = weightedScore / totalWeight
	}

	agreement := float64(triggered) / float64(e.numDetectors)
	var avgConfidence float64
	if len(outputs) > 0 {
		avgConfidence = confidenceSum / float64(len(outputs))
	}
	confidence = 0.6*agreement + 0.4*avgConfidence

	e.updateThreshold(score)
	return score, confidence
}

// updateThreshold folds score into the P² estimator. The adaptive quantile
// only takes over once the estimator has seen enough samples to be stable;
// before that, and always as a floor after, the threshold never drops below
// the static fire threshold.
func (e *AdaptiveEnsemble) updateThreshold(score float64) {
	e.threshold.Update(score)
	if e.threshold.SampleCount() >= 100 {
		e.currentThresh = math.Max(fireThreshold, e.threshold.Quantile())
	}
}

// UpdateWithFeedback records, for every detector in outputs, whether its
// per-event vote (score > 0.5) matched the confirmed ground truth, updates
// that detector's performance counters and bandit arm, and every
// updateInterval samples recomputes current_weights from the bandit and
// F1-score blend. weight scales how hard this feedback event pushes the
// bandit arm, driven by the reporter's confidence.
func (e *AdaptiveEnsemble) UpdateWithFeedback(outputs []DetectorOutput, wasActualAnomaly bool, weight uint32) {
	if weight < 1 {
		weight = 1
	}
	for _, out := range outputs {
		id := int(out.Detector)
		if id >= e.numDetectors {
			continue
		}
		detected := out.Score > fireThreshold
		e.performance[id].update(detected, wasActualAnomaly, out.Score)

		var success bool
		if wasActualAnomaly {
			success = detected
		} else {
			success = !detected
		}
		e.bandit.update(id, success, weight)
	}

	e.updateCount++
	if int(e.updateCount)%e.updateInterval == 0 {
		e.updateWeights()
	}
}

func (e *AdaptiveEnsemble) updateWeights() {
	var thompson []float64
	if rand.Float64() < e.explorationRate {
		thompson = e.bandit.sampleWeights()
	} else {
		thompson = e.bandit.expectedWeights()
	}

	f1 := make([]float64, e.numDetectors)
	var f1Total float64
	for i, p := range e.performance {
		f1[i] = p.f1Score()
		f1Total += f1[i]
	}
	if f1Total == 0 {
		uniform := 1.0 / float64(e.numDetectors)
		for i := range f1 {
			f1[i] = uniform
		}
	} else {
		for i := range f1 {
			f1[i] /= f1Total
		}
	}

	var total float64
	for i := 0; i < e.numDetectors; i++ {
		w := 0.5*thompson[i] + 0.5*f1[i]
		e.currentWeights[i] = w
		total += w
	}
	if total > 0 {
		for i := 0; i < e.numDetectors; i++ {
			e.currentWeights[i] /= total
		}
	}
	for i := e.numDetectors; i < signal.NumDetectors; i++ {
		e.currentWeights[i] = 0
	}
}

// CurrentWeights returns the active per-detector weight vector.
func (e *AdaptiveEnsemble) CurrentWeights() [signal.NumDetectors]float64 {
	return e.currentWeights
}

// IsAnomaly reports whether score clears the adaptively-tracked threshold.
func (e *AdaptiveEnsemble) IsAnomaly(score float64) bool {
	return score > e.currentThresh
}

// Threshold returns the current adaptive anomaly-score threshold.
func (e *AdaptiveEnsemble) Threshold() float64 {
	return e.currentThresh
}

// BanditParams exposes the Thompson bandit's raw (alpha, beta) pairs for
// checkpointing.
func (e *AdaptiveEnsemble) BanditParams() (alphas, betas []float64) {
	return e.bandit.getParams()
}

// RestoreState reinstalls a previously checkpointed weight vector and
// bandit state. weights must have exactly numDetectors entries.
func (e *AdaptiveEnsemble) RestoreState(weights, alphas, betas []float64, totalSamples uint64) bool {
	if len(weights) != e.numDetectors {
		return false
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return false
	}
	if !e.bandit.setParams(alphas, betas) {
		return false
	}
	for i, w := range weights {
		e.currentWeights[i] = w / sum
	}
	for i := e.numDetectors; i < signal.NumDetectors; i++ {
		e.currentWeights[i] = 0
	}
	e.updateCount = totalSamples
	return true
}

// PerformanceStats returns (precision, recall, f1) per detector, indexed
// the same as CurrentWeights.
func (e *AdaptiveEnsemble) PerformanceStats() [][3]float64 {
	stats := make([][3]float64, e.numDetectors)
	for i, p := range e.performance {
		stats[i] = [3]float64{p.precision(), p.recall(), p.f1Score()}
	}
	return stats
}

// Reset drops all learned weighting and performance history back to a
// fresh, uniformly-weighted ensemble.
func (e *AdaptiveEnsemble) Reset() {
	uniform := 1.0 / float64(e.numDetectors)
	for i := 0; i < e.numDetectors; i++ {
		e.currentWeights[i] = uniform
		e.performance[i] = newDetectorPerformance()
	}
	for i := e.numDetectors; i < signal.NumDetectors; i++ {
		e.currentWeights[i] = 0
	}
	e.bandit = newThompsonBandit(e.numDetectors, e.bandit.rng)
	e.threshold = primitives.NewP2Quantile(thresholdQuantile)
	e.currentThresh = fireThreshold
	e.updateCount = 0
}
