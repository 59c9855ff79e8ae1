package analysis

import (
	"math"
	"slices"
)

// Frequency range folded into pitch classes.
const (
	chromaMinFreq = 32.0
	chromaMaxFreq = 8000.0
)

// Chroma folds a power spectrogram into 12 pitch classes (C = 0) per frame.
// Each frame is normalised so its strongest class is 1; silent frames stay 0.
func Chroma(spec [][]float64, sampleRate, fftSize int) [][12]float64 {
	if len(spec) == 0 || sampleRate <= 0 || fftSize <= 0 {
		return nil
	}

	classes := make([]int, len(spec[0]))
	for j := range classes {
		freq := float64(j) * float64(sampleRate) / float64(fftSize)
		if freq < chromaMinFreq || freq > chromaMaxFreq {
			classes[j] = -1
			continue
		}
		// semitones from A4, shifted so C = 0
		midi := 69 + 12*math.Log2(freq/440)
		classes[j] = ((int(math.Round(midi)) % 12) + 12) % 12
	}

	out := make([][12]float64, len(spec))
	for t, row := range spec {
		for j, p := range row {
			if j < len(classes) && classes[j] >= 0 {
				out[t][classes[j]] += p
			}
		}
		peak := slices.Max(out[t][:])
		if peak > 0 {
			for c := range out[t] {
				out[t][c] /= peak
			}
		}
	}
	return out
}

// syncChromaStrength averages chroma over the segments delimited by
// [0, beats..., frames] and returns the summed class energy per segment.
func syncChromaStrength(chroma [][12]float64, beats []int) []float64 {
	n := len(chroma)
	if n == 0 {
		return nil
	}

	bounds := []int{0}
	for _, b := range beats {
		bounds = append(bounds, min(max(b, 0), n))
	}
	bounds = append(bounds, n)
	slices.Sort(bounds)
	bounds = slices.Compact(bounds)

	var strengths []float64
	for i := 1; i < len(bounds); i++ {
		start, end := bounds[i-1], bounds[i]
		var sum float64
		for t := start; t < end; t++ {
			for _, v := range chroma[t] {
				sum += v
			}
		}
		strengths = append(strengths, sum/float64(end-start))
	}
	return strengths
}
