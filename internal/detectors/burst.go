package detectors

import (
	"encoding/json"
	"math"
)

const (
	burstFIRSamples  = 10
	burstFIRFactor   = 0.5
	burstHistorySize = 20
	burstVMaskLead   = 10
	burstAutoReset   = 1000
)

// EnhancedCUSUM is a two-sided cumulative-sum change detector with an FIR
// (fast initial response) head start, a V-mask corroboration check, and an
// adaptive threshold derived from the running mean/std of its own
// cumulative sums.
type EnhancedCUSUM struct {
	target    float64
	slack     float64
	threshold float64
	vMaskTan  float64

	cPos, cNeg float64

	history          []float64
	adaptiveThresh   float64
	sampleCount      int
	samplesSinceRset int

	alarm     bool
	alarmSide int // +1 positive side, -1 negative side, 0 none
}

// NewEnhancedCUSUM builds a CUSUM detector around target with the given
// slack and base threshold. The V-mask half-angle is purely a function of
// slack: tan(atan(slack/2)) == slack/2.
func NewEnhancedCUSUM(target, slack, threshold float64) *EnhancedCUSUM {
	return &EnhancedCUSUM{
		target:         target,
		slack:          slack,
		threshold:      threshold,
		vMaskTan:       slack / 2.0,
		adaptiveThresh: threshold,
		cPos:           burstFIRFactor * threshold,
		cNeg:           -burstFIRFactor * threshold,
	}
}

// Update folds in one observation and returns (severity in [0,1], whether
// an alarm fired this step).
func (c *EnhancedCUSUM) Update(value float64) (float64, bool) {
	c.sampleCount++
	deviation := value - c.target

	c.cPos = math.Max(0, c.cPos+deviation-c.slack)
	c.cNeg = math.Min(0, c.cNeg+deviation+c.slack)

	if c.sampleCount <= burstFIRSamples {
		c.cPos = math.Max(c.cPos, burstFIRFactor*c.adaptiveThresh)
		c.cNeg = math.Min(c.cNeg, -burstFIRFactor*c.adaptiveThresh)
	}

	c.updateHistory(math.Max(c.cPos, -c.cNeg))

	alarmed := false
	c.alarmSide = 0
	if c.cPos > c.adaptiveThresh || c.checkVMask(1) {
		alarmed = true
		c.alarmSide = 1
		c.cPos = 0
	} else if c.cNeg < -c.adaptiveThresh || c.checkVMask(-1) {
		alarmed = true
		c.alarmSide = -1
		c.cNeg = 0
	}

	c.alarm = alarmed
	if alarmed {
		c.samplesSinceRset = 0
	} else {
		c.samplesSinceRset++
		if c.samplesSinceRset >= burstAutoReset {
			c.cPos = 0
			c.cNeg = 0
			c.samplesSinceRset = 0
		}
	}

	var driving float64
	if c.alarmSide >= 0 {
		driving = c.cPos
	} else {
		driving = math.Abs(c.cNeg)
	}
	severity := clamp(math.Min(driving/c.adaptiveThresh, 2.0)/2.0, 0, 1)

	return severity, alarmed
}

// checkVMask reports whether the V-mask boundary projected backward from
// the current history value has been crossed on the given side (+1
// upward, -1 downward). With too little history to check, it reports no
// trigger rather than forcing one, since this feeds an OR alarm gate.
func (c *EnhancedCUSUM) checkVMask(side int) bool {
	n := len(c.history)
	if n < burstVMaskLead {
		return false
	}
	current := c.history[n-1]
	checkDistance := burstVMaskLead
	if n-1 < checkDistance {
		checkDistance = n - 1
	}
	for i := 1; i <= checkDistance; i++ {
		past := c.history[n-1-i]
		offset := float64(i) * c.vMaskTan
		if side > 0 && current > past+offset {
			return true
		}
		if side < 0 && current < past-offset {
			return true
		}
	}
	return false
}

func (c *EnhancedCUSUM) updateHistory(absDeviation float64) {
	c.history = append(c.history, absDeviation)
	if len(c.history) > burstHistorySize {
		c.history = c.history[1:]
	}
	if len(c.history) >= burstHistorySize {
		mean, std := meanStd(c.history)
		candidate := mean + 3.0*std
		if candidate > c.threshold {
			c.adaptiveThresh = candidate
		} else {
			c.adaptiveThresh = c.threshold
		}
	}
}

func meanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	var sq float64
	for _, v := range data {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(data)))
}

// BurstDetector watches inter-arrival time deltas via an Enhanced CUSUM
// over "100ms minus observed delta" (so bursts — short deltas — drive the
// statistic positive).
type BurstDetector struct {
	cusum       *EnhancedCUSUM
	lastTsNs    uint64
	sampleCount int
}

// NewBurstDetector builds a Burst detector targeting a 100ms nominal
// inter-arrival gap.
func NewBurstDetector() *BurstDetector {
	return &BurstDetector{cusum: NewEnhancedCUSUM(0, 5.0, 20.0)}
}

// Update folds in one event and returns the Burst detector's output.
func (d *BurstDetector) Update(ctx Context) Output {
	if d.lastTsNs == 0 {
		d.lastTsNs = ctx.TimestampNs
		d.sampleCount++
		return Neutral("burst", 0)
	}

	deltaMs := float64(ctx.TimestampNs-d.lastTsNs) / 1e6
	d.lastTsNs = ctx.TimestampNs
	d.sampleCount++

	statistic := 100.0 - deltaMs
	severity, fired := d.cusum.Update(statistic)

	if d.sampleCount < 15 {
		return Neutral("burst", deltaMs)
	}

	confidence := 0.6
	if fired {
		confidence = 0.85
	}

	return Output{
		DetectorID: "burst",
		Score:      clamp01(severity),
		Confidence: confidence,
		SignalType: "inter_arrival_burst",
		Fired:      fired,
		Expected:   100.0,
		Observed:   deltaMs,
	}
}

// enhancedCUSUMState is the serializable snapshot of an EnhancedCUSUM.
type enhancedCUSUMState struct {
	Target           float64   `json:"target"`
	Slack            float64   `json:"slack"`
	Threshold        float64   `json:"threshold"`
	VMaskTan         float64   `json:"v_mask_tan"`
	CPos             float64   `json:"c_pos"`
	CNeg             float64   `json:"c_neg"`
	History          []float64 `json:"history"`
	AdaptiveThresh   float64   `json:"adaptive_thresh"`
	SampleCount      int       `json:"sample_count"`
	SamplesSinceRset int       `json:"samples_since_reset"`
	Alarm            bool      `json:"alarm"`
	AlarmSide        int       `json:"alarm_side"`
}

func (c *EnhancedCUSUM) snapshot() enhancedCUSUMState {
	return enhancedCUSUMState{
		Target: c.target, Slack: c.slack, Threshold: c.threshold, VMaskTan: c.vMaskTan,
		CPos: c.cPos, CNeg: c.cNeg,
		History:          append([]float64(nil), c.history...),
		AdaptiveThresh:   c.adaptiveThresh,
		SampleCount:      c.sampleCount,
		SamplesSinceRset: c.samplesSinceRset,
		Alarm:            c.alarm,
		AlarmSide:        c.alarmSide,
	}
}

func (c *EnhancedCUSUM) restore(s enhancedCUSUMState) {
	c.target, c.slack, c.threshold, c.vMaskTan = s.Target, s.Slack, s.Threshold, s.VMaskTan
	c.cPos, c.cNeg = s.CPos, s.CNeg
	c.history = append(c.history[:0], s.History...)
	c.adaptiveThresh = s.AdaptiveThresh
	c.sampleCount = s.SampleCount
	c.samplesSinceRset = s.SamplesSinceRset
	c.alarm = s.Alarm
	c.alarmSide = s.AlarmSide
}

// burstDetectorState is the serializable snapshot of a BurstDetector.
type burstDetectorState struct {
	CUSUM       enhancedCUSUMState `json:"cusum"`
	LastTsNs    uint64             `json:"last_ts_ns"`
	SampleCount int                `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *BurstDetector) Snapshot() ([]byte, error) {
	return json.Marshal(burstDetectorState{
		CUSUM:       d.cusum.snapshot(),
		LastTsNs:    d.lastTsNs,
		SampleCount: d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *BurstDetector) Restore(data []byte) error {
	var s burstDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.cusum.restore(s.CUSUM)
	d.lastTsNs = s.LastTsNs
	d.sampleCount = s.SampleCount
	return nil
}
