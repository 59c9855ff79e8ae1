package analysis

import (
	"math"
	"sort"
)

// NoHeight disables the height filter in FindPeaks.
var NoHeight = math.Inf(-1)

// FindPeaks returns indices of local maxima in x.
//
// A peak rises strictly on its left and falls strictly on its right; flat tops
// report their midpoint and the first and last samples are never peaks. Peaks
// below height are dropped, then peaks closer than distance samples to a higher
// peak are removed, highest first.
func FindPeaks(x []float64, height float64, distance int) []int {
	var peaks []int

	i, last := 1, len(x)-1
	for i < last {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < last && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}

	if !math.IsInf(height, -1) {
		kept := peaks[:0]
		for _, p := range peaks {
			if x[p] >= height {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	if distance > 1 && len(peaks) > 1 {
		peaks = selectByDistance(x, peaks, distance)
	}

	return peaks
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] < x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}

	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	var out []int
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
