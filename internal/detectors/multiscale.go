package detectors

import (
	"encoding/json"
	"math"

	"github.com/viacore/tier1-core/internal/primitives"
)

// timeScale identifies one of the four temporal resolutions a MultiScale
// detector tracks in parallel.
type timeScale int

const (
	scaleSecond timeScale = iota
	scaleMinute
	scaleHour
	scaleDay
)

type scaleConfig struct {
	bufferSize   int
	windowNs     uint64
	ewmaHalfLife float64
	hwPeriod     int // 0 = no Holt-Winters for this scale
	tolerance    float64
}

// seasonalityPowerRatio is the fraction of a scale's window-average power
// its dominant non-DC frequency must carry before that scale is treated
// as strongly seasonal.
const seasonalityPowerRatio = 0.4

var scaleConfigs = map[timeScale]scaleConfig{
	scaleSecond: {bufferSize: 10, windowNs: uint64(1e9), ewmaHalfLife: 5.0, tolerance: 0.3},
	scaleMinute: {bufferSize: 60, windowNs: uint64(60e9), ewmaHalfLife: 10.0, tolerance: 0.2},
	scaleHour:   {bufferSize: 24, windowNs: uint64(3.6e12), ewmaHalfLife: 50.0, hwPeriod: 24, tolerance: 0.15},
	scaleDay:    {bufferSize: 7, windowNs: uint64(8.64e13), ewmaHalfLife: 100.0, hwPeriod: 7, tolerance: 0.1},
}

// scaleDetector accumulates a windowed average for one time scale and
// scores the average against an EWMA/Holt-Winters baseline once a full
// window has elapsed. It also keeps the last bufferSize window averages
// in a ring buffer, used to detect seasonality via DFT independent of the
// Holt-Winters forecaster's own fixed period assumption.
type scaleDetector struct {
	cfg          scaleConfig
	ewma         *primitives.EWMA
	hw           *HoltWinters
	windowSum    float64
	windowCount  int
	lastUpdateNs uint64
	hasLast      bool
	lastScore    float64
	buffer       []float64
}

func newScaleDetector(scale timeScale) *scaleDetector {
	cfg := scaleConfigs[scale]
	sd := &scaleDetector{cfg: cfg, ewma: primitives.NewEWMA(cfg.ewmaHalfLife)}
	if cfg.hwPeriod > 0 {
		sd.hw = NewHoltWinters(0.3, 0.1, 0.05, cfg.hwPeriod)
	}
	return sd
}

func (s *scaleDetector) update(timestampNs uint64, value float64) (score float64, hasNewWindow bool) {
	if !s.hasLast {
		s.lastUpdateNs = timestampNs
		s.hasLast = true
	}

	s.windowSum += value
	s.windowCount++

	if timestampNs-s.lastUpdateNs < s.cfg.windowNs {
		return s.lastScore, false
	}

	avg := s.windowSum / float64(s.windowCount)
	s.windowSum = 0
	s.windowCount = 0
	s.lastUpdateNs = timestampNs

	s.buffer = append(s.buffer, avg)
	if len(s.buffer) > s.cfg.bufferSize {
		s.buffer = s.buffer[1:]
	}

	var prediction float64
	if s.hw != nil {
		prediction, _ = s.hw.Update(avg)
	} else {
		prediction = s.ewma.Update(avg)
	}

	threshold := math.Max(prediction*s.cfg.tolerance, 1.0)
	excess := math.Abs(avg-prediction) - threshold
	if excess < 0 {
		excess = 0
	}
	score = clamp01(math.Min(excess/math.Max(prediction, 1.0), 2.0) / 2.0)
	s.lastScore = score
	return score, true
}

// seasonalityStrength returns the fraction of this scale's buffered
// window-average power carried by its single strongest non-DC frequency,
// via a direct DFT over the ring buffer. 0 until the buffer is full.
func (s *scaleDetector) seasonalityStrength() float64 {
	n := len(s.buffer)
	if n < s.cfg.bufferSize || n < 4 {
		return 0
	}

	re, im := dft(s.buffer)
	var total, maxPower float64
	for i := 1; i < n; i++ {
		power := re[i]*re[i] + im[i]*im[i]
		total += power
		if power > maxPower {
			maxPower = power
		}
	}
	if total <= 0 {
		return 0
	}
	return maxPower / total
}

// MultiScaleDetector combines four scaleDetectors (second/minute/hour/day)
// into one temporal-context anomaly score, boosted when multiple scales
// agree.
type MultiScaleDetector struct {
	second, minute, hour, day *scaleDetector
	sampleCount               int
}

// NewMultiScaleDetector builds a MultiScale detector over all four scales.
func NewMultiScaleDetector() *MultiScaleDetector {
	return &MultiScaleDetector{
		second: newScaleDetector(scaleSecond),
		minute: newScaleDetector(scaleMinute),
		hour:   newScaleDetector(scaleHour),
		day:    newScaleDetector(scaleDay),
	}
}

// Update folds in one event and returns the MultiScale detector's output.
func (d *MultiScaleDetector) Update(ctx Context) Output {
	d.sampleCount++

	secScore, _ := d.second.update(ctx.TimestampNs, ctx.Value)
	minScore, _ := d.minute.update(ctx.TimestampNs, ctx.Value)
	hourScore, _ := d.hour.update(ctx.TimestampNs, ctx.Value)
	dayScore, _ := d.day.update(ctx.TimestampNs, ctx.Value)

	if d.sampleCount < 10 {
		return Neutral("multiscale", ctx.Value)
	}

	weighted := 1.0*secScore + 0.8*minScore + 0.6*hourScore + 0.4*dayScore
	combined := weighted / (1.0 + 0.8 + 0.6 + 0.4)

	agreeing := 0
	for _, s := range []float64{secScore, minScore, hourScore, dayScore} {
		if s > 0.5 {
			agreeing++
		}
	}

	seasonal := false
	for _, sd := range [...]*scaleDetector{d.second, d.minute, d.hour, d.day} {
		if sd.seasonalityStrength() > seasonalityPowerRatio {
			seasonal = true
			break
		}
	}

	if agreeing >= 2 || seasonal {
		combined = math.Min(combined*1.2, 1.0)
	}
	combined = clamp01(combined)

	return Output{
		DetectorID: "multiscale",
		Score:      combined,
		Confidence: 0.7,
		SignalType: "temporal_multiscale",
		Fired:      combined > 0.5,
		Expected:   0.0,
		Observed:   ctx.Value,
	}
}

// scaleDetectorState is the serializable snapshot of a scaleDetector.
type scaleDetectorState struct {
	Ewma         primitives.EWMAState `json:"ewma"`
	HasHW        bool                 `json:"has_hw"`
	HW           HoltWintersState     `json:"hw"`
	WindowSum    float64              `json:"window_sum"`
	WindowCount  int                  `json:"window_count"`
	LastUpdateNs uint64               `json:"last_update_ns"`
	HasLast      bool                 `json:"has_last"`
	LastScore    float64              `json:"last_score"`
	Buffer       []float64            `json:"buffer"`
}

func (s *scaleDetector) snapshot() scaleDetectorState {
	st := scaleDetectorState{
		Ewma:         s.ewma.Snapshot(),
		WindowSum:    s.windowSum,
		WindowCount:  s.windowCount,
		LastUpdateNs: s.lastUpdateNs,
		HasLast:      s.hasLast,
		LastScore:    s.lastScore,
		Buffer:       append([]float64(nil), s.buffer...),
	}
	if s.hw != nil {
		st.HasHW = true
		st.HW = s.hw.Snapshot()
	}
	return st
}

func (s *scaleDetector) restore(st scaleDetectorState) {
	s.ewma.Restore(st.Ewma)
	if st.HasHW && s.hw != nil {
		s.hw.Restore(st.HW)
	}
	s.windowSum = st.WindowSum
	s.windowCount = st.WindowCount
	s.lastUpdateNs = st.LastUpdateNs
	s.hasLast = st.HasLast
	s.lastScore = st.LastScore
	s.buffer = append(s.buffer[:0], st.Buffer...)
}

// multiScaleDetectorState is the serializable snapshot of a
// MultiScaleDetector.
type multiScaleDetectorState struct {
	Second, Minute, Hour, Day scaleDetectorState
	SampleCount               int
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *MultiScaleDetector) Snapshot() ([]byte, error) {
	return json.Marshal(multiScaleDetectorState{
		Second:      d.second.snapshot(),
		Minute:      d.minute.snapshot(),
		Hour:        d.hour.snapshot(),
		Day:         d.day.snapshot(),
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *MultiScaleDetector) Restore(data []byte) error {
	var s multiScaleDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.second.restore(s.Second)
	d.minute.restore(s.Minute)
	d.hour.restore(s.Hour)
	d.day.restore(s.Day)
	d.sampleCount = s.SampleCount
	return nil
}
