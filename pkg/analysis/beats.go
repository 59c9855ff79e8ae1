package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultTightness controls how strongly the tracker holds to the estimated period.
const DefaultTightness = 100.0

// TrackBeats places beats on an onset envelope by dynamic programming:
// each frame's cumulative score is its local onset score plus the best
// predecessor one period back, penalised by log-squared deviation from the period.
// Returns beat frame indices in increasing order.
func TrackBeats(env []float64, fps, bpm, tightness float64) []int {
	if len(env) == 0 || fps <= 0 || bpm <= 0 {
		return nil
	}

	period := fps * 60 / bpm
	if period < 1 {
		return nil
	}

	local := localScore(env, period)
	if local == nil {
		return nil
	}

	n := len(local)
	cumulative := make([]float64, n)
	backlink := make([]int, n)

	lookBack := int(math.Round(2 * period))
	lookNear := max(int(math.Round(period/2)), 1)

	for i := range n {
		backlink[i] = -1
		best := math.Inf(-1)
		for j := max(0, i-lookBack); j <= i-lookNear; j++ {
			d := math.Log(float64(i-j) / period)
			score := cumulative[j] - tightness*d*d
			if score > best {
				best = score
				backlink[i] = j
			}
		}
		cumulative[i] = local[i]
		if backlink[i] >= 0 {
			cumulative[i] += best
		}
	}

	last := lastBeat(cumulative)
	if last < 0 {
		return nil
	}

	var beats []int
	for i := last; i >= 0; i = backlink[i] {
		beats = append(beats, i)
	}
	sort.Ints(beats)

	return trimBeats(local, beats)
}

// localScore smooths the std-normalised envelope with a Gaussian matched to the period.
func localScore(env []float64, period float64) []float64 {
	std := stat.StdDev(env, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	width := int(math.Round(period))
	kernel := make([]float64, 2*width+1)
	for k := range kernel {
		x := float64(k-width) * 32 / period
		kernel[k] = math.Exp(-0.5 * x * x)
	}

	local := make([]float64, len(env))
	for i := range env {
		var sum float64
		for k, w := range kernel {
			j := i + k - width
			if j >= 0 && j < len(env) {
				sum += env[j] / std * w
			}
		}
		local[i] = sum
	}
	return local
}

// lastBeat picks the final cumulative-score maximum that reaches half the
// median of all maxima.
func lastBeat(cumulative []float64) int {
	var maxima []int
	for i := 1; i < len(cumulative)-1; i++ {
		if cumulative[i] > cumulative[i-1] && cumulative[i] >= cumulative[i+1] {
			maxima = append(maxima, i)
		}
	}
	if len(maxima) == 0 {
		return -1
	}

	values := make([]float64, len(maxima))
	for i, m := range maxima {
		values[i] = cumulative[m]
	}
	sort.Float64s(values)
	threshold := 0.5 * stat.Quantile(0.5, stat.Empirical, values, nil)

	for i := len(maxima) - 1; i >= 0; i-- {
		if cumulative[maxima[i]] >= threshold {
			return maxima[i]
		}
	}
	return maxima[len(maxima)-1]
}

// trimBeats drops leading and trailing beats whose local score is below half
// the RMS local score at beat positions.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}

	var sq float64
	for _, b := range beats {
		sq += local[b] * local[b]
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(beats)))

	start, end := 0, len(beats)
	for start < end && local[beats[start]] < threshold {
		start++
	}
	for end > start && local[beats[end-1]] < threshold {
		end--
	}
	return beats[start:end]
}
