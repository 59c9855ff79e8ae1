package tempo

import (
	"context"
	"fmt"
	"math"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// NativeRateStretcher is the in-process rate-resample strategy.
type NativeRateStretcher struct {
	SampleRate int // output rate, 0 keeps the input rate
}

func (s NativeRateStretcher) Name() string { return MethodNative }

// Stretch reinterprets the samples at sr*ratio and resamples to the output rate.
func (s NativeRateStretcher) Stretch(ctx context.Context, b audio.Buffer, ratio float64) (audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	rate := int(math.Round(float64(b.SampleRate) * ratio))
	if ratio <= 0 || rate <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %g", ErrInvalidRatio, ratio)
	}

	out := s.SampleRate
	if out <= 0 {
		out = b.SampleRate
	}
	return audio.Resample(audio.Buffer{Samples: b.Samples, SampleRate: rate}, out)
}
