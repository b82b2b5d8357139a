package ensemble

import (
	"math"
	"math/rand"
)

// banditDecay shrinks both Beta parameters toward 1.0 between updates so the
// bandit tracks a detector's recent reliability rather than a lifetime
// average; a detector that regresses recovers influence within a few dozen
// feedback events instead of being permanently penalized by its history.
const banditDecay = 0.98

// thompsonBandit is a per-detector Beta-Bernoulli bandit: arm i's posterior
// over "this detector is trustworthy" is Beta(alphas[i], betas[i]), updated
// toward success (alpha++) or failure (beta++) on every feedback event.
type thompsonBandit struct {
	alphas []float64
	betas  []float64
	rng    *rand.Rand
}

func newThompsonBandit(numArms int, rng *rand.Rand) *thompsonBandit {
	alphas := make([]float64, numArms)
	betas := make([]float64, numArms)
	for i := range alphas {
		alphas[i] = 1.0
		betas[i] = 1.0
	}
	return &thompsonBandit{alphas: alphas, betas: betas, rng: rng}
}

// sampleWeights draws one Beta sample per arm and normalizes the draws into
// a weight distribution — the "explore" half of Thompson sampling.
func (b *thompsonBandit) sampleWeights() []float64 {
	samples := make([]float64, len(b.alphas))
	var total float64
	for i := range samples {
		samples[i] = sampleBeta(b.alphas[i], b.betas[i], b.rng)
		total += samples[i]
	}
	if total <= 0 {
		uniform := 1.0 / float64(len(samples))
		for i := range samples {
			samples[i] = uniform
		}
		return samples
	}
	for i := range samples {
		samples[i] /= total
	}
	return samples
}

// expectedWeights returns the posterior mean alpha/(alpha+beta) per arm,
// normalized — the "exploit" half of Thompson sampling.
func (b *thompsonBandit) expectedWeights() []float64 {
	means := make([]float64, len(b.alphas))
	var total float64
	for i := range means {
		means[i] = b.alphas[i] / (b.alphas[i] + b.betas[i])
		total += means[i]
	}
	if total <= 0 {
		uniform := 1.0 / float64(len(means))
		for i := range means {
			means[i] = uniform
		}
		return means
	}
	for i := range means {
		means[i] /= total
	}
	return means
}

// update decays both parameters for the arm, floors them at 1.0 so a long
// quiet detector never loses its prior entirely, then records the outcome
// with the given weight — stronger ground-truth confidence moves the arm
// further in one step.
func (b *thompsonBandit) update(arm int, success bool, weight uint32) {
	b.alphas[arm] *= banditDecay
	b.betas[arm] *= banditDecay
	if b.alphas[arm] < 1.0 {
		b.alphas[arm] = 1.0
	}
	if b.betas[arm] < 1.0 {
		b.betas[arm] = 1.0
	}
	if weight < 1 {
		weight = 1
	}
	if success {
		b.alphas[arm] += float64(weight)
	} else {
		b.betas[arm] += float64(weight)
	}
}

func (b *thompsonBandit) getParams() (alphas, betas []float64) {
	a := make([]float64, len(b.alphas))
	copy(a, b.alphas)
	be := make([]float64, len(b.betas))
	copy(be, b.betas)
	return a, be
}

func (b *thompsonBandit) setParams(alphas, betas []float64) bool {
	if len(alphas) != len(b.alphas) || len(betas) != len(b.betas) {
		return false
	}
	copy(b.alphas, alphas)
	copy(b.betas, betas)
	return true
}

// sampleGamma draws a Gamma(shape, 1) sample via the Marsaglia-Tsang method.
// Go's math/rand has no built-in Gamma or Beta distribution, so Beta(a, b)
// is assembled here as X/(X+Y) for X ~ Gamma(a,1), Y ~ Gamma(b,1) — the
// standard construction used wherever a dedicated stats library isn't
// available.
func sampleGamma(shape float64, rng *rand.Rand) float64 {
	if shape < 1.0 {
		// Boost via Gamma(shape+1) and correct with a uniform power, per
		// the standard Marsaglia-Tsang boosting trick.
		u := rng.Float64()
		return sampleGamma(shape+1.0, rng) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

func sampleBeta(alpha, beta float64, rng *rand.Rand) float64 {
	x := sampleGamma(alpha, rng)
	y := sampleGamma(beta, rng)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
