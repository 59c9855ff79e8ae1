package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampler"
)

// Resample converts b to sampleRate. A buffer already at that rate is returned as is.
func Resample(b Buffer, sampleRate int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid target sample rate %d", sampleRate)
	}
	if b.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid source sample rate %d", b.SampleRate)
	}
	if b.SampleRate == sampleRate || len(b.Samples) == 0 {
		return Buffer{Samples: b.Samples, SampleRate: sampleRate}, nil
	}

	out, err := resampling.ResampleMono(b.Samples, float64(b.SampleRate), float64(sampleRate), resampling.QualityHigh)
	if err != nil {
		return Buffer{}, fmt.Errorf("resample %d -> %d Hz: %w", b.SampleRate, sampleRate, err)
	}

	return Buffer{Samples: out, SampleRate: sampleRate}, nil
}
