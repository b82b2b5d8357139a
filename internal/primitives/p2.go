package primitives

import "sort"

// P2Quantile is the Jain-Chlamtac P² algorithm: an O(1)-memory online
// estimator for a single quantile, tracked via five markers (min, three
// interior height markers, max) whose positions are adjusted parabolically
// (falling back to linear when the parabolic estimate would leave the
// markers out of order) after every sample.
type P2Quantile struct {
	p      float64
	n      int // samples seen so far
	q      [5]float64
	np     [5]float64 // desired marker positions
	pos    [5]int     // actual marker positions (counts)
	warmup []float64
}

// NewP2Quantile builds an estimator for the given quantile (e.g. 0.95).
func NewP2Quantile(quantile float64) *P2Quantile {
	if quantile <= 0 || quantile >= 1 {
		panic("primitives: P2Quantile quantile must be in (0,1)")
	}
	return &P2Quantile{p: quantile, warmup: make([]float64, 0, 5)}
}

// Update folds a new sample into the estimator.
func (e *P2Quantile) Update(x float64) {
	e.n++

	if e.n <= 5 {
		e.warmup = append(e.warmup, x)
		if e.n == 5 {
			sort.Float64s(e.warmup)
			for i := 0; i < 5; i++ {
				e.q[i] = e.warmup[i]
				e.pos[i] = i + 1
			}
			e.np[0] = 1
			e.np[1] = 1 + 2*e.p
			e.np[2] = 1 + 4*e.p
			e.np[3] = 3 + 2*e.p
			e.np[4] = 5
		}
		return
	}

	// Find the cell k such that q[k] <= x < q[k+1], clamping at the ends.
	k := 0
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if e.q[i] <= x && x < e.q[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}

	dn := [5]float64{0, e.p / 2, e.p, (1 + e.p) / 2, 1}
	for i := 0; i < 5; i++ {
		e.np[i] += dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.pos[i])
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qNew := e.parabolic(i, sign)
			if e.q[i-1] < qNew && qNew < e.q[i+1] {
				e.q[i] = qNew
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

func (e *P2Quantile) parabolic(i, d int) float64 {
	df := float64(d)
	n1 := float64(e.pos[i+1] - e.pos[i])
	n0 := float64(e.pos[i] - e.pos[i-1])
	term1 := df / (n1 + n0)
	term2 := (n0+df)*(e.q[i+1]-e.q[i])/n1 + (n1-df)*(e.q[i]-e.q[i-1])/n0
	return e.q[i] + term1*term2
}

func (e *P2Quantile) linear(i, d int) float64 {
	df := float64(d)
	denom := float64(e.pos[i+d] - e.pos[i])
	return e.q[i] + df*(e.q[i+d]-e.q[i])/denom
}

// Quantile returns the current estimate. Before the fifth sample is seen,
// it returns the median of the samples accumulated so far (not a default).
func (e *P2Quantile) Quantile() float64 {
	if e.n == 0 {
		return 0.0
	}
	if e.n < 5 {
		sorted := append([]float64(nil), e.warmup...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2.0
		}
		return sorted[mid]
	}
	return e.q[2]
}

// SampleCount returns the total number of samples folded in.
func (e *P2Quantile) SampleCount() int { return e.n }

// P2QuantileState is the serializable snapshot of a P2Quantile.
type P2QuantileState struct {
	P      float64    `json:"p"`
	N      int        `json:"n"`
	Q      [5]float64 `json:"q"`
	NP     [5]float64 `json:"np"`
	Pos    [5]int     `json:"pos"`
	Warmup []float64  `json:"warmup"`
}

// Snapshot returns the current state for serialization.
func (e *P2Quantile) Snapshot() P2QuantileState {
	warmup := make([]float64, len(e.warmup))
	copy(warmup, e.warmup)
	return P2QuantileState{P: e.p, N: e.n, Q: e.q, NP: e.np, Pos: e.pos, Warmup: warmup}
}

// Restore replaces the estimator's state with a previously captured
// snapshot.
func (e *P2Quantile) Restore(s P2QuantileState) {
	e.p = s.P
	e.n = s.N
	e.q = s.Q
	e.np = s.NP
	e.pos = s.Pos
	e.warmup = append(e.warmup[:0], s.Warmup...)
}
