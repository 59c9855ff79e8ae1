package analysis

import (
	"gonum.org/v1/gonum/stat"
)

// BeatConfidence scores beat regularity as 1 - 2*CV of the inter-beat intervals,
// clamped to [0, 1]. Fewer than 3 beats score 0.
func BeatConfidence(times []float64) float64 {
	if len(times) < 3 {
		return 0
	}

	intervals := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i] - times[i-1]
	}

	mean, std := stat.PopMeanStdDev(intervals, nil)
	if mean == 0 {
		return 0
	}

	return min(1, max(0, 1-2*std/mean))
}
