package analysis

import (
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultTimeSignature is assumed when there is too little evidence.
	DefaultTimeSignature = 4
	// UnknownTimeSignature means the estimate failed; callers must reject the file.
	UnknownTimeSignature = 0

	// TimeSignatureRate is the sample rate the estimator analyses at.
	TimeSignatureRate = 22050

	minTimeSigBeats = 8
	maxBarInterval  = 8
)

// TimeSignatureFromStrengths infers beats per bar from onset strength sampled at beats.
// Strong beats are peaks above the mean; the most common spacing between them
// (1..8, ties to the shorter) is returned if it is 3, 4 or 6, otherwise 4.
func TimeSignatureFromStrengths(strengths []float64) int {
	if len(strengths) == 0 {
		return DefaultTimeSignature
	}

	peaks := FindPeaks(strengths, stat.Mean(strengths, nil), 1)
	if len(peaks) <= 2 {
		return DefaultTimeSignature
	}

	// bins [1,2) [2,3) ... [7,8]
	var hist [maxBarInterval - 1]int
	for i := 1; i < len(peaks); i++ {
		d := peaks[i] - peaks[i-1]
		if d < 1 || d > maxBarInterval {
			continue
		}
		hist[min(d, maxBarInterval-1)-1]++
	}

	best := 0
	for i, c := range hist {
		if c > hist[best] {
			best = i
		}
	}

	switch est := best + 1; est {
	case 3, 4, 6:
		return est
	default:
		return DefaultTimeSignature
	}
}
