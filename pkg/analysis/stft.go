package analysis

import (
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// STFTConfig describes parameters for STFT computation.
type STFTConfig struct {
	FFTSize int  // FFT window size (e.g., 2048)
	HopSize int  // Hop between frames (e.g., 512)
	Center  bool // Reflect-pad by FFTSize/2 so frame t is centred on sample t*HopSize
}

// DefaultSTFT is the framing used for onset strength, chroma and beat tracking.
var DefaultSTFT = STFTConfig{FFTSize: 2048, HopSize: 512, Center: true}

// FrameRate returns analysis frames per second at sampleRate.
func (c STFTConfig) FrameRate(sampleRate int) float64 {
	return float64(sampleRate) / float64(c.HopSize)
}

// FramesToTime converts frame indices to seconds.
func (c STFTConfig) FramesToTime(frames []int, sampleRate int) []float64 {
	times := make([]float64, len(frames))
	for i, f := range frames {
		times[i] = float64(f*c.HopSize) / float64(sampleRate)
	}
	return times
}

// PowerSpectrogram computes |STFT|^2.
// Returns [frames][bins] with FFTSize/2+1 bins per frame.
func PowerSpectrogram(samples []float64, cfg STFTConfig) [][]float64 {
	if len(samples) == 0 || cfg.FFTSize <= 0 || cfg.HopSize <= 0 {
		return nil
	}

	x := samples
	if cfg.Center {
		x = padCenter(samples, cfg.FFTSize/2)
	}
	if len(x) < cfg.FFTSize {
		padded := make([]float64, cfg.FFTSize)
		copy(padded, x)
		x = padded
	}

	numFrames := 1 + (len(x)-cfg.FFTSize)/cfg.HopSize
	numBins := cfg.FFTSize/2 + 1

	hann := window.Hann(cfg.FFTSize)
	fft := fourier.NewFFT(cfg.FFTSize)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, numBins)

	result := make([][]float64, numFrames)
	for i := range numFrames {
		start := i * cfg.HopSize
		for j := range frame {
			frame[j] = x[start+j] * hann[j]
		}

		coeffs = fft.Coefficients(coeffs, frame)

		row := make([]float64, numBins)
		for j, c := range coeffs {
			re, im := real(c), imag(c)
			row[j] = re*re + im*im
		}
		result[i] = row
	}

	return result
}

// padCenter reflect-pads both ends by pad samples, falling back to zeros
// when the signal is too short to reflect.
func padCenter(samples []float64, pad int) []float64 {
	n := len(samples)
	out := make([]float64, n+2*pad)
	copy(out[pad:], samples)
	if n <= pad {
		return out
	}
	for i := 1; i <= pad; i++ {
		out[pad-i] = samples[i]
		out[pad+n-1+i] = samples[n-1-i]
	}
	return out
}
