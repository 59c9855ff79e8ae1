package tempo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Single-stage limits of the ffmpeg atempo filter.
const (
	MinAtempo = 0.5
	MaxAtempo = 2.0
)

// AtempoFactors splits ratio into factors within [MinAtempo, MaxAtempo] whose product is ratio.
func AtempoFactors(ratio float64) []float64 {
	var factors []float64
	remaining := ratio

	switch {
	case ratio > MaxAtempo:
		for remaining > 1 {
			f := min(MaxAtempo, remaining)
			factors = append(factors, f)
			remaining /= f
		}
	case ratio < MinAtempo:
		for remaining < 1 {
			f := max(MinAtempo, remaining)
			factors = append(factors, f)
			remaining /= f
		}
	default:
		factors = append(factors, ratio)
	}
	return factors
}

// atempoFilter renders the factor chain as an ffmpeg filter expression.
func atempoFilter(ratio float64) string {
	factors := AtempoFactors(ratio)
	parts := make([]string, len(factors))
	for i, f := range factors {
		parts[i] = "atempo=" + strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// rateFilter reinterprets the input at sr*ratio and resamples to outRate.
func rateFilter(sampleRate int, ratio float64, outRate int) string {
	return fmt.Sprintf("asetrate=%d,aresample=%d", int(math.Round(float64(sampleRate)*ratio)), outRate)
}
