package detectors

import (
	"encoding/json"
	"math"
)

const spectralWindowSize = 24

// spectralResidual implements saliency-based spectral residual anomaly
// detection over a sliding window: it takes the log-amplitude spectrum of
// a naive discrete Fourier transform, subtracts a locally smoothed version
// of it (the "residual"), and inverse-transforms to get a reconstruction
// whose deviation from the last actual sample is the anomaly signal. The
// transform is a direct O(n^2) DFT rather than an FFT — the window is
// small and fixed-size, so there is no need for a transform library.
type spectralResidual struct {
	window         []float64
	scoreEwma      float64
	scoreEwmvar    float64
	alpha          float64
	sensitivity    float64
	thresholdSigma float64
	initialized    bool
}

func newSpectralResidual(windowSize int, sensitivity float64) *spectralResidual {
	return &spectralResidual{
		window:         make([]float64, 0, windowSize),
		alpha:          2.0 / (float64(windowSize) + 1.0),
		sensitivity:    sensitivity,
		thresholdSigma: 3.0,
	}
}

func (s *spectralResidual) update(value float64) (float64, bool) {
	s.window = append(s.window, value)
	if len(s.window) > spectralWindowSize {
		s.window = s.window[1:]
	}
	if len(s.window) < 8 {
		return 0.0, false
	}

	re, im := dft(s.window)
	n := len(re)
	logAmp := make([]float64, n)
	for i := 0; i < n; i++ {
		amp := math.Hypot(re[i], im[i])
		logAmp[i] = math.Log(amp + 1e-12)
	}

	smoothed := movingAverage(logAmp, 3)
	residual := make([]float64, n)
	for i := 0; i < n; i++ {
		residual[i] = logAmp[i] - smoothed[i]
	}

	// Reconstruct the saliency map in the original domain via an inverse
	// DFT driven by the residual magnitude but the original phase.
	reRes := make([]float64, n)
	imRes := make([]float64, n)
	for i := 0; i < n; i++ {
		amp := math.Exp(residual[i])
		phase := math.Atan2(im[i], re[i])
		reRes[i] = amp * math.Cos(phase)
		imRes[i] = amp * math.Sin(phase)
	}
	recon := inverseDFT(reRes, imRes)

	_, std := meanStd(s.window)
	if std < 1e-9 {
		std = 1e-9
	}
	lastActual := s.window[len(s.window)-1]
	lastRecon := recon[len(recon)-1]
	rawScore := math.Abs(lastActual-lastRecon) / std * (1.0 + s.sensitivity)

	if !s.initialized {
		s.scoreEwma = rawScore
		s.scoreEwmvar = 0
		s.initialized = true
	} else {
		diff := rawScore - s.scoreEwma
		s.scoreEwma += s.alpha * diff
		s.scoreEwmvar = (1 - s.alpha) * (s.scoreEwmvar + s.alpha*diff*diff)
	}
	s.thresholdSigma = 2.0 + (1.0-s.sensitivity)*2.0
	threshold := s.scoreEwma + s.thresholdSigma*math.Sqrt(s.scoreEwmvar)

	isAnomaly := rawScore > threshold && threshold > 0
	return rawScore, isAnomaly
}

func dft(x []float64) (re, im []float64) {
	n := len(x)
	re = make([]float64, n)
	im = make([]float64, n)
	for k := 0; k < n; k++ {
		var sumRe, sumIm float64
		for t := 0; t < n; t++ {
			angle := -2.0 * math.Pi * float64(k) * float64(t) / float64(n)
			sumRe += x[t] * math.Cos(angle)
			sumIm += x[t] * math.Sin(angle)
		}
		re[k] = sumRe
		im[k] = sumIm
	}
	return re, im
}

func inverseDFT(re, im []float64) []float64 {
	n := len(re)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		var sum float64
		for k := 0; k < n; k++ {
			angle := 2.0 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += re[k]*math.Cos(angle) - im[k]*math.Sin(angle)
		}
		out[t] = sum / float64(n)
	}
	return out
}

func movingAverage(x []float64, window int) []float64 {
	n := len(x)
	out := make([]float64, n)
	half := window / 2
	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi >= n {
			hi = n - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// SpectralDetector wraps spectralResidual as a Detector over the raw value
// stream, flagging saliency spikes that outlier-based detectors would
// miss (e.g. periodic pattern disruption).
type SpectralDetector struct {
	sr          *spectralResidual
	sampleCount int
}

// NewSpectralDetector builds a Spectral detector with a default
// sensitivity of 0.3.
func NewSpectralDetector() *SpectralDetector {
	return &SpectralDetector{sr: newSpectralResidual(spectralWindowSize, 0.3)}
}

// Update folds in one event and returns the Spectral detector's output.
func (d *SpectralDetector) Update(ctx Context) Output {
	d.sampleCount++
	score, fired := d.sr.update(ctx.Value)

	if d.sampleCount < 12 {
		return Neutral("spectral", ctx.Value)
	}

	confidence := 0.6
	if fired {
		confidence = 0.8
	}

	return Output{
		DetectorID: "spectral",
		Score:      clamp01(score / 3.0),
		Confidence: confidence,
		SignalType: "spectral_saliency",
		Fired:      fired,
		Expected:   d.sr.scoreEwma,
		Observed:   score,
	}
}

// spectralDetectorState is the serializable snapshot of a
// SpectralDetector.
type spectralDetectorState struct {
	Window         []float64 `json:"window"`
	ScoreEwma      float64   `json:"score_ewma"`
	ScoreEwmvar    float64   `json:"score_ewmvar"`
	Alpha          float64   `json:"alpha"`
	Sensitivity    float64   `json:"sensitivity"`
	ThresholdSigma float64   `json:"threshold_sigma"`
	Initialized    bool      `json:"initialized"`
	SampleCount    int       `json:"sample_count"`
}

// Snapshot serializes the detector's learned state for checkpointing.
func (d *SpectralDetector) Snapshot() ([]byte, error) {
	return json.Marshal(spectralDetectorState{
		Window:         append([]float64(nil), d.sr.window...),
		ScoreEwma:      d.sr.scoreEwma,
		ScoreEwmvar:    d.sr.scoreEwmvar,
		Alpha:          d.sr.alpha,
		Sensitivity:    d.sr.sensitivity,
		ThresholdSigma: d.sr.thresholdSigma,
		Initialized:    d.sr.initialized,
		SampleCount:    d.sampleCount,
	})
}

// Restore replaces the detector's state with a previously captured
// snapshot.
func (d *SpectralDetector) Restore(data []byte) error {
	var s spectralDetectorState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.sr.window = append(d.sr.window[:0], s.Window...)
	d.sr.scoreEwma = s.ScoreEwma
	d.sr.scoreEwmvar = s.ScoreEwmvar
	d.sr.alpha = s.Alpha
	d.sr.sensitivity = s.Sensitivity
	d.sr.thresholdSigma = s.ThresholdSigma
	d.sr.initialized = s.Initialized
	d.sampleCount = s.SampleCount
	return nil
}
