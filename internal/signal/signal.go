// Package signal defines the rich anomaly signal Tier-1 emits for Tier-2
// consumption: full per-detector breakdown, attribution, and the baseline
// context a downstream verifier needs to reason about a decision without
// re-running the detector stack itself.
package signal

import "fmt"

// NumDetectors is the number of detectors in the ensemble. Every fixed-size
// array in this package is sized to this constant.
const NumDetectors = 10

// DetectorID identifies one of the ten detectors for attribution and
// indexing into the fixed-size score/weight arrays.
type DetectorID uint8

const (
	Volume DetectorID = iota
	Distribution
	Cardinality
	Burst
	Spectral
	ChangePoint
	RRCF
	MultiScale
	Behavioral
	Drift
)

var detectorNames = [NumDetectors]string{
	"Volume/RPS",
	"Distribution/Value",
	"Cardinality/Velocity",
	"Burst/IAT",
	"Spectral/FFT",
	"ChangePoint/Trend",
	"RRCF/Isolation",
	"MultiScale/Temporal",
	"Behavioral/Fingerprint",
	"Drift/Concept",
}

// Name returns the human-readable detector name used in attribution
// strings.
func (d DetectorID) Name() string {
	if int(d) < 0 || int(d) >= NumDetectors {
		return "Unknown"
	}
	return detectorNames[d]
}

// Severity buckets an ensemble score into a coarse alerting tier.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	default:
		return "NONE"
	}
}

// SeverityFromScore buckets score into a Severity band.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.75:
		return SeverityHigh
	case score >= 0.6:
		return SeverityMedium
	case score >= 0.4:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// DetectorScore is a single detector's output for one event: fixed-size so
// the full ten-detector breakdown can live inline in AnomalySignal without
// per-event allocation.
type DetectorScore struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Fired      bool    `json:"fired"`
	Expected   float64 `json:"expected"`
	Observed   float64 `json:"observed"`
}

// WeightedContribution returns this score's weighted contribution to the
// ensemble combination: score * confidence * weight.
func (d DetectorScore) WeightedContribution(weight float64) float64 {
	return d.Score * d.Confidence * weight
}

// BaselineSummary is a snapshot of an entity's typical behavior, carried on
// the signal so Tier-2 can sanity-check a decision without a round trip to
// the profile registry.
type BaselineSummary struct {
	AvgValue     float64 `json:"avg_value"`
	StdValue     float64 `json:"std_value"`
	AvgFrequency float64 `json:"avg_frequency"`
	ProfileAge   uint32  `json:"profile_age"`
	IsWarmup     bool    `json:"is_warmup"`
}

// Attribution names the detectors that drove a decision, by their share of
// the weighted ensemble contribution.
type Attribution struct {
	PrimaryDetector       DetectorID `json:"primary_detector"`
	SecondaryDetector     DetectorID `json:"secondary_detector"`
	PrimaryContribution   float64    `json:"primary_contribution"`
	SecondaryContribution float64    `json:"secondary_contribution"`
	DetectorsFired        uint8      `json:"detectors_fired"`
}

// ComputeAttribution ranks detectors by weighted contribution and returns
// the top two as primary/secondary, normalized by the total contribution
// across all detectors.
func ComputeAttribution(scores [NumDetectors]DetectorScore, weights [NumDetectors]float64) Attribution {
	type contribution = struct {
		index int
		value float64
	}
	var contributions [NumDetectors]contribution
	var fired uint8

	for i := 0; i < NumDetectors; i++ {
		if scores[i].Fired {
			fired++
		}
		contributions[i] = contribution{index: i, value: scores[i].WeightedContribution(weights[i])}
	}

	sortContributionsDesc(contributions[:])

	var total float64
	for _, c := range contributions {
		total += c.value
	}
	normalize := total
	if normalize <= 0.0 {
		normalize = 1.0
	}

	return Attribution{
		PrimaryDetector:       DetectorID(contributions[0].index),
		SecondaryDetector:     DetectorID(contributions[1].index),
		PrimaryContribution:   contributions[0].value / normalize,
		SecondaryContribution: contributions[1].value / normalize,
		DetectorsFired:        fired,
	}
}

func sortContributionsDesc(c []struct {
	index int
	value float64
}) {
	// Insertion sort: NumDetectors is fixed at 10, well below where a
	// general-purpose sort would pay off.
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && c[j-1].value < c[j].value {
			c[j-1], c[j] = c[j], c[j-1]
			j--
		}
	}
}

// AnomalySignal is the full per-event decision emitted to the forwarder:
// identity, the primary decision, the complete detector breakdown,
// attribution, and baseline context.
type AnomalySignal struct {
	EntityHash uint64 `json:"entity_hash"`
	Timestamp  uint64 `json:"timestamp"`
	Sequence   uint64 `json:"sequence"`

	IsAnomaly     bool     `json:"is_anomaly"`
	Severity      Severity `json:"severity"`
	EnsembleScore float64  `json:"ensemble_score"`
	Confidence    float64  `json:"confidence"`

	DetectorScores  [NumDetectors]DetectorScore `json:"detector_scores"`
	DetectorWeights [NumDetectors]float64       `json:"detector_weights"`

	Attribution Attribution `json:"attribution"`

	Baseline BaselineSummary `json:"baseline"`
	RawValue float64         `json:"raw_value"`
}

// PrimaryDetectorName returns the name of the primary attributed detector.
func (s AnomalySignal) PrimaryDetectorName() string { return s.Attribution.PrimaryDetector.Name() }

// SecondaryDetectorName returns the name of the secondary attributed
// detector.
func (s AnomalySignal) SecondaryDetectorName() string {
	return s.Attribution.SecondaryDetector.Name()
}

// DetectorFired reports whether the given detector fired on this signal.
func (s AnomalySignal) DetectorFired(d DetectorID) bool { return s.DetectorScores[d].Fired }

// DetectorScoreFor returns the raw score for the given detector.
func (s AnomalySignal) DetectorScoreFor(d DetectorID) float64 { return s.DetectorScores[d].Score }

// Reason renders a compact human-readable explanation of the signal,
// useful for log lines and operator dashboards.
func (s AnomalySignal) Reason() string {
	if !s.IsAnomaly {
		return "Normal behavior"
	}
	return fmt.Sprintf(
		"%s anomaly (score: %.2f, confidence: %.0f%%) - Primary: %s (%.0f%%), Secondary: %s (%.0f%%), %d detectors triggered",
		s.Severity,
		s.EnsembleScore,
		s.Confidence*100.0,
		s.PrimaryDetectorName(),
		s.Attribution.PrimaryContribution*100.0,
		s.SecondaryDetectorName(),
		s.Attribution.SecondaryContribution*100.0,
		s.Attribution.DetectorsFired,
	)
}

// Builder assembles an AnomalySignal incrementally as detectors run,
// deferring the ensemble decision (severity, is_anomaly, attribution) to
// Finalize once the combine stage has produced a score and confidence.
type Builder struct {
	signal AnomalySignal
}

// NewBuilder starts a signal for the given entity/timestamp, with equal
// initial detector weights.
func NewBuilder(entityHash, timestamp uint64) *Builder {
	b := &Builder{signal: AnomalySignal{EntityHash: entityHash, Timestamp: timestamp, Confidence: 1.0}}
	for i := range b.signal.DetectorWeights {
		b.signal.DetectorWeights[i] = 0.1
	}
	return b
}

// Sequence sets the per-entity sequence number.
func (b *Builder) Sequence(seq uint64) *Builder {
	b.signal.Sequence = seq
	return b
}

// RawValue sets the raw value that was processed.
func (b *Builder) RawValue(value float64) *Builder {
	b.signal.RawValue = value
	return b
}

// DetectorScore sets the score for one detector.
func (b *Builder) DetectorScore(d DetectorID, score DetectorScore) *Builder {
	b.signal.DetectorScores[d] = score
	return b
}

// DetectorWeights sets the current ensemble weights for all detectors.
func (b *Builder) DetectorWeights(weights [NumDetectors]float64) *Builder {
	b.signal.DetectorWeights = weights
	return b
}

// Baseline sets the baseline behavioral summary.
func (b *Builder) Baseline(baseline BaselineSummary) *Builder {
	b.signal.Baseline = baseline
	return b
}

// Finalize computes severity, the anomaly verdict, and attribution from the
// combined ensemble score/confidence, and returns the completed signal.
func (b *Builder) Finalize(ensembleScore, confidence float64) AnomalySignal {
	b.signal.EnsembleScore = ensembleScore
	b.signal.Confidence = confidence
	b.signal.Severity = SeverityFromScore(ensembleScore)
	b.signal.IsAnomaly = ensembleScore >= 0.4 && confidence >= 0.5
	b.signal.Attribution = ComputeAttribution(b.signal.DetectorScores, b.signal.DetectorWeights)
	return b.signal
}
