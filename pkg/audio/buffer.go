// Package audio loads, converts and writes the sample buffers passed between pipeline stages.
package audio

// DefaultSampleRate is the rate every processed clip is written at.
const DefaultSampleRate = 44100

// Buffer is a mono sample sequence at a fixed sample rate.
// Samples are normalized to [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Len returns the number of samples.
func (b Buffer) Len() int {
	return len(b.Samples)
}

// Duration returns the length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Mixdown averages interleaved channels into a single channel.
func Mixdown(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		out := make([]float64, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
