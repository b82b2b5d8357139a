package detectors

import (
	"encoding/json"
	"math"

	"github.com/viacore/tier1-core/internal/primitives"
)

const behavioralMaturityThreshold = 40

// behavioralProfile is one entity's learned fingerprint: which hours it is
// normally active, how fast it typically acts, the shape of its
// inter-arrival and payload-size distributions, which services it
// typically touches, and how geographically diverse its traffic is.
type behavioralProfile struct {
	hourHistogram    [24]uint64
	observationCount uint64
	velocityEwma     *primitives.EWMA
	iatHistogram     *primitives.FadingHistogram
	payloadHistogram *primitives.FadingHistogram
	serviceAccess    map[uint64]uint64
	geoDiversity     *primitives.HyperLogLog
	behaviorScore    float64
	isMature         bool
}

func newBehavioralProfile() *behavioralProfile {
	return &behavioralProfile{
		velocityEwma:     primitives.NewEWMA(20),
		iatHistogram:     primitives.NewFadingHistogram(20, 1.0, 10000.0, 0.999),
		payloadHistogram: primitives.NewFadingHistogram(20, 1.0, 100000.0, 0.999),
		serviceAccess:    make(map[uint64]uint64),
		geoDiversity:     primitives.NewHyperLogLog(10),
	}
}

func (p *behavioralProfile) update(hour int, iatMs, payloadSize float64, serviceHash, geoHash uint64) {
	p.hourHistogram[hour%24]++
	p.observationCount++

	if iatMs > 0 {
		p.velocityEwma.Update(1.0 / iatMs)
	}
	p.iatHistogram.Update(iatMs)
	p.payloadHistogram.Update(payloadSize)

	if len(p.serviceAccess) < 50 {
		p.serviceAccess[serviceHash]++
	} else if _, seen := p.serviceAccess[serviceHash]; seen {
		p.serviceAccess[serviceHash]++
	}

	p.geoDiversity.AddHash(geoHash)

	if !p.isMature && p.observationCount >= behavioralMaturityThreshold {
		p.isMature = true
	}
}

// deviation computes the largest single deviation component (unusual
// hour, velocity spike, IAT rarity, payload rarity, unseen service) and
// folds it into the behavior score EWMA.
func (p *behavioralProfile) deviation(hour int, iatMs, payloadSize float64, serviceHash uint64) float64 {
	if !p.isMature {
		return 0.0
	}

	var components []float64

	var total uint64
	for _, c := range p.hourHistogram {
		total += c
	}
	avgPerHour := float64(total) / 24.0
	if float64(p.hourHistogram[hour%24]) < avgPerHour/2.0 {
		components = append(components, 0.3)
	}

	if iatMs > 0 {
		velocity := 1.0 / iatMs
		baseline := p.velocityEwma.Value()
		if baseline > 0 && velocity > baseline*5.0 {
			ratio := velocity / baseline
			components = append(components, math.Min(ratio/10.0, 0.4))
		}
	}

	iatRarity := p.iatHistogram.RarityScore(iatMs)
	if iatRarity > 0.8 {
		components = append(components, 0.3*iatRarity)
	}

	payloadRarity := p.payloadHistogram.RarityScore(payloadSize)
	if payloadRarity > 0.8 {
		components = append(components, 0.2*payloadRarity)
	}

	if _, seen := p.serviceAccess[serviceHash]; !seen {
		components = append(components, 0.3)
	}

	var combined float64
	for _, c := range components {
		if c > combined {
			combined = c
		}
	}

	if p.behaviorScore == 0 {
		p.behaviorScore = combined
	} else {
		p.behaviorScore = 0.1*combined + 0.9*p.behaviorScore
	}
	return combined
}

// BehavioralDetector maintains behavioralProfile state per entity,
// detecting deviations from an entity's learned usage fingerprint rather
// than from the stream's aggregate statistics.
type BehavioralDetector struct {
	profile     *behavioralProfile
	lastTsNs    uint64
	sampleCount int
}

// NewBehavioralDetector builds a Behavioral detector for a single entity's
// profile.
func NewBehavioralDetector() *BehavioralDetector {
	return &BehavioralDetector{profile: newBehavioralProfile()}
}

// Update folds in one event and returns the Behavioral detector's output.
// The value is treated as a payload-size proxy; service/geo hashing is
// derived from the entity hash when no richer context is available.
func (d *BehavioralDetector) Update(ctx Context) Output {
	d.sampleCount++

	hour := int((ctx.TimestampNs / uint64(3600e9)) % 24)
	var iatMs float64
	if d.lastTsNs != 0 {
		iatMs = float64(ctx.TimestampNs-d.lastTsNs) / 1e6
	}
	d.lastTsNs = ctx.TimestampNs

	serviceHash := ctx.EntityHash % 101
	geoHash := ctx.EntityHash % 251

	deviation := d.profile.deviation(hour, iatMs, ctx.Value, serviceHash)
	d.profile.update(hour, iatMs, ctx.Value, serviceHash, geoHash)

	if !d.profile.isMature {
		return Neutral("behavioral", ctx.Value)
	}

	return Output{
		DetectorID: "behavioral",
		Score:      clamp01(d.profile.behaviorScore),
		Confidence: 0.75,
		SignalType: "behavioral_fingerprint",
		Fired:      deviation > 0.3,
		Expected:   0.0,
		Observed:   deviation,
	}
}

// behavioralDetectorState is the serializable snapshot of a
// BehavioralDetector.
type behavioralDetectorState struct {
	HourHistogram    [24]uint64                     `json:"hour_histogram"`
	ObservationCount uint64                          `json:"observation_count"`
	VelocityEwma     primitives.EWMAState            `json:"velocity_ewma"`
	IatHistogram     primitives.FadingHistogramState `json:"iat_histogram"`
	PayloadHistogram primitives.FadingHistogramState `json:"payload_histogram"`
	ServiceAccess    map[uint64]uint64               `json:"service_access"`
	GeoDiversity     primitives.HyperLogLogState     `json:"geo_diversity"`
	BehaviorScore    float64                         `json:"behavior_score"`
	IsMature         bool                            `json:"is_mature"`
	LastTsNs         uint64                          `json:"last_ts_ns"`
	SampleCount      int                             `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *BehavioralDetector) Snapshot() ([]byte, error) {
	p := d.profile
	serviceAccess := make(map[uint64]uint64, len(p.serviceAccess))
	for k, v := range p.serviceAccess {
		serviceAccess[k] = v
	}
	return json.Marshal(behavioralDetectorState{
		HourHistogram:    p.hourHistogram,
		ObservationCount: p.observationCount,
		VelocityEwma:     p.velocityEwma.Snapshot(),
		IatHistogram:     p.iatHistogram.Snapshot(),
		PayloadHistogram: p.payloadHistogram.Snapshot(),
		ServiceAccess:    serviceAccess,
		GeoDiversity:     p.geoDiversity.Snapshot(),
		BehaviorScore:    p.behaviorScore,
		IsMature:         p.isMature,
		LastTsNs:         d.lastTsNs,
		SampleCount:      d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *BehavioralDetector) Restore(data []byte) error {
	var s behavioralDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p := d.profile
	p.hourHistogram = s.HourHistogram
	p.observationCount = s.ObservationCount
	p.velocityEwma.Restore(s.VelocityEwma)
	p.iatHistogram.Restore(s.IatHistogram)
	p.payloadHistogram.Restore(s.PayloadHistogram)
	p.serviceAccess = make(map[uint64]uint64, len(s.ServiceAccess))
	for k, v := range s.ServiceAccess {
		p.serviceAccess[k] = v
	}
	p.geoDiversity.Restore(s.GeoDiversity)
	p.behaviorScore = s.BehaviorScore
	p.isMature = s.IsMature
	d.lastTsNs = s.LastTsNs
	d.sampleCount = s.SampleCount
	return nil
}
