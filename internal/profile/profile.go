// Package profile owns one entity's full detector state: the ten
// detectors, the adaptive ensemble that blends their votes, and the
// rolling baseline summary exposed alongside every anomaly signal.
package profile

import (
	"math"
	"sync"

	"github.com/viacore/tier1-core/internal/checkpoint"
	"github.com/viacore/tier1-core/internal/detectors"
	"github.com/viacore/tier1-core/internal/ensemble"
	"github.com/viacore/tier1-core/internal/signal"
)

// driftValueFloor/Ceiling bound the Drift detector's KL-divergence
// histogram, matching the Rust original's EnsembleDriftDetector default
// range (crates/via-core/src/algo/drift_detector.rs).
const (
	driftValueFloor   = 0.0
	driftValueCeiling = 1000.0
	warmupGraceEvents = 10
)

// AnomalyProfile is one entity's learned state: all ten detectors, an
// adaptive ensemble over their votes, and running baseline statistics.
// Every method takes the profile's mutex, so it is safe for concurrent
// callers sharing one profile (a shard worker and a checkpoint reader, say).
type AnomalyProfile struct {
	mu sync.Mutex

	entityHash uint64
	ensemble   *ensemble.AdaptiveEnsemble

	volume       *detectors.VolumeDetector
	distribution *detectors.DistributionDetector
	cardinality  *detectors.CardinalityDetector
	burst        *detectors.BurstDetector
	spectral     *detectors.SpectralDetector
	changepoint  *detectors.ChangePointDetector
	rrcf         *detectors.RRCFDetector
	multiscale   *detectors.MultiScaleDetector
	behavioral   *detectors.BehavioralDetector
	drift        *detectors.DriftDetector

	valueSum    float64
	valueSumSq  float64
	eventCount  uint32
	firstSeenNs uint64
	lastSeenNs  uint64
}

// New builds a fresh profile for entityHash. seed drives the RRCF
// detector's random cuts and the ensemble's bandit sampler, so
// checkpoint-restored profiles can be reseeded deterministically per
// entity if reproducibility across restarts ever matters.
func New(entityHash uint64, seed int64) *AnomalyProfile {
	return &AnomalyProfile{
		entityHash:   entityHash,
		ensemble:     ensemble.Default(seed),
		volume:       detectors.NewVolumeDetector(),
		distribution: detectors.NewDistributionDetector(),
		cardinality:  detectors.NewCardinalityDetector(),
		burst:        detectors.NewBurstDetector(),
		spectral:     detectors.NewSpectralDetector(),
		changepoint:  detectors.NewChangePointDetector(),
		rrcf:         detectors.NewRRCFDetector(seed),
		multiscale:   detectors.NewMultiScaleDetector(),
		behavioral:   detectors.NewBehavioralDetector(),
		drift:        detectors.NewDriftDetector(driftValueFloor, driftValueCeiling),
	}
}

// Observe runs one event through all ten detectors, combines their votes
// into a signal.AnomalySignal, and folds the event into the running
// baseline. It does not apply feedback — call RecordFeedback separately
// once ground truth is known.
func (p *AnomalyProfile) Observe(timestampNs uint64, sequence uint64, value float64) signal.AnomalySignal {
	p.mu.Lock()
	defer p.mu.Unlock()

	isWarmup := p.eventCount < warmupGraceEvents
	ctx := detectors.Context{TimestampNs: timestampNs, EntityHash: p.entityHash, Value: value, IsWarmup: isWarmup}

	outs := [signal.NumDetectors]detectors.Output{
		signal.Volume:       p.volume.Update(ctx),
		signal.Distribution: p.distribution.Update(ctx),
		signal.Cardinality:  p.cardinality.Update(ctx),
		signal.Burst:        p.burst.Update(ctx),
		signal.Spectral:     p.spectral.Update(ctx),
		signal.ChangePoint:  p.changepoint.Update(ctx),
		signal.RRCF:         p.rrcf.Update(ctx),
		signal.MultiScale:   p.multiscale.Update(ctx),
		signal.Behavioral:   p.behavioral.Update(ctx),
		signal.Drift:        p.drift.Update(ctx),
	}

	ensembleOuts := make([]ensemble.DetectorOutput, signal.NumDetectors)
	for i, o := range outs {
		ensembleOuts[i] = ensemble.DetectorOutput{Detector: signal.DetectorID(i), Score: o.Score, Confidence: o.Confidence}
	}
	score, confidence := p.ensemble.Combine(ensembleOuts)
	weights := p.ensemble.CurrentWeights()

	p.updateBaseline(timestampNs, value)
	baseline := p.baselineLocked()

	b := signal.NewBuilder(p.entityHash, timestampNs).
		Sequence(sequence).
		RawValue(value).
		DetectorWeights(weights).
		Baseline(baseline)

	for i, o := range outs {
		b.DetectorScore(signal.DetectorID(i), signal.DetectorScore{
			Score:      o.Score,
			Confidence: o.Confidence,
			Fired:      o.Fired,
			Expected:   o.Expected,
			Observed:   o.Observed,
		})
	}

	return b.Finalize(score, confidence)
}

// RecordFeedback teaches the ensemble whether its most recent combined
// verdict for this entity was correct, given what each detector voted at
// the time. Callers typically replay the detector outputs carried on the
// signal.AnomalySignal returned by Observe. weight scales how hard this
// feedback event moves each detector's bandit arm, driven by the
// reporter's confidence.
func (p *AnomalyProfile) RecordFeedback(sig signal.AnomalySignal, wasActualAnomaly bool, weight uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	outs := make([]ensemble.DetectorOutput, signal.NumDetectors)
	for i := 0; i < signal.NumDetectors; i++ {
		ds := sig.DetectorScores[i]
		outs[i] = ensemble.DetectorOutput{Detector: signal.DetectorID(i), Score: ds.Score, Confidence: ds.Confidence}
	}
	p.ensemble.UpdateWithFeedback(outs, wasActualAnomaly, weight)
}

func (p *AnomalyProfile) updateBaseline(timestampNs uint64, value float64) {
	if p.eventCount == 0 {
		p.firstSeenNs = timestampNs
	}
	p.lastSeenNs = timestampNs
	p.eventCount++
	p.valueSum += value
	p.valueSumSq += value * value
}

func (p *AnomalyProfile) baselineLocked() signal.BaselineSummary {
	n := float64(p.eventCount)
	if n == 0 {
		return signal.BaselineSummary{IsWarmup: true}
	}

	avg := p.valueSum / n
	variance := p.valueSumSq/n - avg*avg
	if variance < 0 {
		variance = 0
	}

	var ageSeconds uint32
	if p.lastSeenNs > p.firstSeenNs {
		ageSeconds = uint32((p.lastSeenNs - p.firstSeenNs) / 1e9)
	}

	var avgFrequency float64
	if ageSeconds > 0 {
		avgFrequency = n / float64(ageSeconds)
	}

	return signal.BaselineSummary{
		AvgValue:     avg,
		StdValue:     math.Sqrt(variance),
		AvgFrequency: avgFrequency,
		ProfileAge:   ageSeconds,
		IsWarmup:     p.eventCount < warmupGraceEvents,
	}
}

// EventCount returns how many events this profile has observed, used by
// the registry's eviction scoring.
func (p *AnomalyProfile) EventCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eventCount
}

// LastSeenNs returns the timestamp of the most recent observed event.
func (p *AnomalyProfile) LastSeenNs() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeenNs
}

// stateCarriers returns every detector in this profile that can serialize
// and restore its own learned state, keyed by its DetectorID. RRCF is
// deliberately absent: its forest rebuilds from live traffic within a
// bounded window, so there's nothing worth checkpointing there.
func (p *AnomalyProfile) stateCarriers() map[signal.DetectorID]detectors.StateCarrier {
	return map[signal.DetectorID]detectors.StateCarrier{
		signal.Volume:       p.volume,
		signal.Distribution: p.distribution,
		signal.Cardinality:  p.cardinality,
		signal.Burst:        p.burst,
		signal.Spectral:     p.spectral,
		signal.ChangePoint:  p.changepoint,
		signal.MultiScale:   p.multiscale,
		signal.Behavioral:   p.behavioral,
		signal.Drift:        p.drift,
	}
}

// Checkpoint captures the profile's ensemble weights, bandit state, and
// every checkpointable detector's learned state for entityHash, eventCount
// and lastAccess, and priority, ready to hand to a checkpoint.Manager.
func (p *AnomalyProfile) Checkpoint(priority uint8) checkpoint.ProfileCheckpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	weights := p.ensemble.CurrentWeights()
	alphas, betas := p.ensemble.BanditParams()
	var ec checkpoint.EnsembleCheckpoint
	copy(ec.Weights[:], weights[:])
	copy(ec.Alpha[:], alphas)
	copy(ec.Beta[:], betas)

	var detectorCkpts []checkpoint.DetectorCheckpoint
	for id, carrier := range p.stateCarriers() {
		data, err := carrier.Snapshot()
		if err != nil {
			continue
		}
		detectorCkpts = append(detectorCkpts, checkpoint.DetectorCheckpoint{
			DetectorID: uint8(id),
			State:      data,
		})
	}

	return checkpoint.ProfileCheckpoint{
		EntityHash: p.entityHash,
		EventCount: uint64(p.eventCount),
		Priority:   priority,
		Ensemble:   ec,
		Detectors:  detectorCkpts,
		CreatedAt:  p.firstSeenNs,
		LastAccess: p.lastSeenNs,
	}
}

// RestoreCheckpoint reinstalls a previously captured ensemble and
// detector state. Detector IDs the checkpoint doesn't cover (e.g. RRCF, or
// a detector added after the checkpoint was taken) are left at their fresh
// state.
func (p *AnomalyProfile) RestoreCheckpoint(pc checkpoint.ProfileCheckpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ensemble.RestoreState(pc.Ensemble.Weights[:], pc.Ensemble.Alpha[:], pc.Ensemble.Beta[:], pc.Ensemble.TotalSamples)

	carriers := p.stateCarriers()
	for _, dc := range pc.Detectors {
		carrier, ok := carriers[signal.DetectorID(dc.DetectorID)]
		if !ok {
			continue
		}
		_ = carrier.Restore(dc.State)
	}

	p.lastSeenNs = pc.LastAccess
	if p.firstSeenNs == 0 {
		p.firstSeenNs = pc.CreatedAt
	}
	p.eventCount = uint32(pc.EventCount)
}
