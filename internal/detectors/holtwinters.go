package detectors

// HoltWinters is an additive triple-exponential-smoothing forecaster: it
// tracks level, trend, and a per-phase seasonal component, and on each
// update returns the prediction it made for the value just observed (made
// before seeing it) along with the deviation.
type HoltWinters struct {
	alpha, beta, gamma float64
	period             int

	level     float64
	trend     float64
	seasonals []float64

	initialized bool
	step        int
}

// NewHoltWinters builds a forecaster with the given smoothing factors and
// season length (e.g. 24 for an hourly cycle, 7 for a weekly one).
func NewHoltWinters(alpha, beta, gamma float64, period int) *HoltWinters {
	return &HoltWinters{
		alpha: alpha, beta: beta, gamma: gamma, period: period,
		seasonals: make([]float64, period),
	}
}

// Update folds value in and returns (prediction, deviation): the
// prediction Holt-Winters made for this value before seeing it, and how
// far the actual value fell from that prediction.
func (h *HoltWinters) Update(value float64) (float64, float64) {
	seasonIdx := h.step % h.period
	lastSeasonal := h.seasonals[seasonIdx]

	if !h.initialized {
		if h.step == 0 {
			h.level = value
			h.trend = 0.0
		} else {
			h.trend = 0.5*h.trend + 0.5*(value-h.level)
			h.level = value
		}
		h.seasonals[seasonIdx] = 0.0

		if h.step >= h.period {
			h.initialized = true
		}
		h.step++
		return value, 0.0
	}

	prediction := h.level + h.trend + lastSeasonal
	deviation := value - prediction

	lastLevel := h.level
	lastTrend := h.trend

	h.level = h.alpha*(value-lastSeasonal) + (1.0-h.alpha)*(lastLevel+lastTrend)
	h.trend = h.beta*(h.level-lastLevel) + (1.0-h.beta)*lastTrend
	h.seasonals[seasonIdx] = h.gamma*(value-h.level) + (1.0-h.gamma)*lastSeasonal

	h.step++
	return prediction, deviation
}

// Seasonality returns the current per-phase seasonal components.
func (h *HoltWinters) Seasonality() []float64 { return h.seasonals }

// Initialized reports whether the warm-up period (one full season) has
// elapsed.
func (h *HoltWinters) Initialized() bool { return h.initialized }

// HoltWintersState is the serializable snapshot of a HoltWinters
// forecaster.
type HoltWintersState struct {
	Alpha, Beta, Gamma float64
	Period             int
	Level, Trend       float64
	Seasonals          []float64
	Initialized        bool
	Step               int
}

// Snapshot returns the current state for serialization.
func (h *HoltWinters) Snapshot() HoltWintersState {
	seasonals := make([]float64, len(h.seasonals))
	copy(seasonals, h.seasonals)
	return HoltWintersState{
		Alpha: h.alpha, Beta: h.beta, Gamma: h.gamma, Period: h.period,
		Level: h.level, Trend: h.trend, Seasonals: seasonals,
		Initialized: h.initialized, Step: h.step,
	}
}

// Restore replaces the forecaster's state with a previously captured
// snapshot.
func (h *HoltWinters) Restore(s HoltWintersState) {
	h.alpha, h.beta, h.gamma, h.period = s.Alpha, s.Beta, s.Gamma, s.Period
	h.level, h.trend = s.Level, s.Trend
	h.seasonals = append(h.seasonals[:0], s.Seasonals...)
	h.initialized, h.step = s.Initialized, s.Step
}
