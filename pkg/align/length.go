// Package align cuts beat-aligned, fixed-length windows out of clips.
package align

import "github.com/nzoschke/loopprep/pkg/audio"

// ExactLength returns samples with exactly n entries. Shorter input is tiled
// then truncated, longer input is truncated, and exact input is returned as is.
// Empty input yields silence.
func ExactLength(samples []float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if len(samples) == n {
		return samples
	}
	out := make([]float64, n)
	if len(samples) == 0 {
		return out
	}
	for off := 0; off < n; off += len(samples) {
		copy(out[off:], samples)
	}
	return out
}

// EnsureExactLength applies ExactLength to a buffer.
func EnsureExactLength(b audio.Buffer, n int) audio.Buffer {
	return audio.Buffer{Samples: ExactLength(b.Samples, n), SampleRate: b.SampleRate}
}

// TargetSamples is the clip length for targetBeats beats at referenceBPM.
func TargetSamples(targetBeats int, referenceBPM float64, sampleRate int) int {
	if referenceBPM <= 0 {
		return 0
	}
	return int(float64(targetBeats) * 60 / referenceBPM * float64(sampleRate))
}
