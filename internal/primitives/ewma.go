// Package primitives implements the small numeric building blocks shared by
// the detector library: an exponentially-weighted moving average/variance
// tracker, a fading log-binned histogram, a HyperLogLog cardinality
// estimator, a Count-Min sketch, and a P² online quantile estimator.
//
// None of these types allocate on their hot-path Update/Add calls; all
// state is fixed-size at construction.
package primitives

import "math"

// EWMA tracks an exponentially-weighted mean and variance of a scalar
// stream, parameterised by half-life rather than a raw alpha so callers can
// reason in "samples to half-decay" terms.
//
//	alpha = 1 - exp(-ln(2) / halfLife)
//	variance <- (1-alpha) * (variance + alpha*delta^2)
type EWMA struct {
	alpha       float64
	mean        float64
	variance    float64
	initialized bool
}

// NewEWMA builds an EWMA with the given half-life, in samples. A half-life
// of h means a deviation's influence is halved every h updates.
func NewEWMA(halfLife float64) *EWMA {
	if halfLife <= 0 {
		panic("primitives: EWMA half-life must be positive")
	}
	alpha := 1.0 - math.Exp(-math.Ln2/halfLife)
	return &EWMA{alpha: alpha}
}

// Update folds sample into the running mean/variance and returns the new
// mean.
func (e *EWMA) Update(sample float64) float64 {
	if !e.initialized {
		e.mean = sample
		e.variance = 0.0
		e.initialized = true
		return e.mean
	}
	delta := sample - e.mean
	e.mean += e.alpha * delta
	e.variance = (1.0 - e.alpha) * (e.variance + e.alpha*delta*delta)
	return e.mean
}

// Value returns the current mean without updating.
func (e *EWMA) Value() float64 { return e.mean }

// StdDev returns sqrt(variance).
func (e *EWMA) StdDev() float64 { return math.Sqrt(e.variance) }

// Initialized reports whether at least one sample has been folded in.
func (e *EWMA) Initialized() bool { return e.initialized }

// EWMAState is the JSON-serializable snapshot of an EWMA, used by detector
// checkpoint encodings.
type EWMAState struct {
	Alpha       float64 `json:"alpha"`
	Mean        float64 `json:"mean"`
	Variance    float64 `json:"variance"`
	Initialized bool    `json:"initialized"`
}

// Snapshot returns the current state for serialization.
func (e *EWMA) Snapshot() EWMAState {
	return EWMAState{Alpha: e.alpha, Mean: e.mean, Variance: e.variance, Initialized: e.initialized}
}

// Restore replaces the EWMA's state with a previously captured snapshot.
func (e *EWMA) Restore(s EWMAState) {
	e.alpha = s.Alpha
	e.mean = s.Mean
	e.variance = s.Variance
	e.initialized = s.Initialized
}
