package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Tempo sanity range and fallback.
const (
	MinBPM     = 30.0
	MaxBPM     = 300.0
	DefaultBPM = 120.0
)

// Centre and width (in octaves) of the log-normal tempo prior.
const (
	priorBPM    = 120.0
	priorOctave = 1.0
)

var (
	// ErrNoSignal means the onset envelope carries no usable energy.
	ErrNoSignal = errors.New("no onset signal")
	// ErrNoPeriodicity means no tempo lag correlates positively.
	ErrNoPeriodicity = errors.New("no periodicity found")
)

// EstimateTempo picks the autocorrelation lag of the onset envelope that best
// matches a tempo prior centred on 120 BPM, refined by parabolic interpolation.
// fps is the envelope frame rate.
func EstimateTempo(env []float64, fps float64) (float64, error) {
	if len(env) < 4 || fps <= 0 {
		return 0, ErrNoSignal
	}

	mean := stat.Mean(env, nil)
	centred := make([]float64, len(env))
	copy(centred, env)
	floats.AddConst(-mean, centred)
	if floats.Norm(centred, 2) == 0 {
		return 0, ErrNoSignal
	}

	minLag := max(1, int(math.Floor(fps*60/MaxBPM)))
	maxLag := min(len(env)-2, int(math.Ceil(fps*60/MinBPM)))
	if maxLag <= minLag {
		return 0, ErrNoSignal
	}

	ac := autocorrelate(centred, maxLag+2)

	best, bestScore := -1, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if ac[lag] <= 0 || ac[lag] < ac[lag-1] || ac[lag] < ac[lag+1] {
			continue
		}
		score := ac[lag] * tempoPrior(fps*60/float64(lag))
		if score > bestScore {
			best, bestScore = lag, score
		}
	}
	if best < 0 {
		return 0, ErrNoPeriodicity
	}

	lag := float64(best)
	if a, b, c := ac[best-1], ac[best], ac[best+1]; a-2*b+c != 0 {
		if delta := 0.5 * (a - c) / (a - 2*b + c); math.Abs(delta) < 1 {
			lag += delta
		}
	}

	return fps * 60 / lag, nil
}

// autocorrelate returns the biased autocorrelation of x for lags [0, n).
func autocorrelate(x []float64, n int) []float64 {
	ac := make([]float64, n)
	for lag := range n {
		if lag >= len(x) {
			break
		}
		ac[lag] = floats.Dot(x[:len(x)-lag], x[lag:]) / float64(len(x))
	}
	return ac
}

func tempoPrior(bpm float64) float64 {
	z := math.Log2(bpm/priorBPM) / priorOctave
	return math.Exp(-0.5 * z * z)
}
