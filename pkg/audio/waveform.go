package audio

import "fmt"

// Waveform contains downsampled waveform data for visualization.
type Waveform struct {
	PixelsPerSec int       `json:"pixels_per_sec"`
	Peaks        []float64 `json:"peaks"`
	Troughs      []float64 `json:"troughs"`
}

// GenerateWaveform reduces b to one max/min pair per pixel.
// pixelsPerSec controls the resolution (e.g., 100 = 100 data points per second).
func GenerateWaveform(b Buffer, pixelsPerSec int) (*Waveform, error) {
	if pixelsPerSec <= 0 {
		return nil, fmt.Errorf("invalid resolution %d", pixelsPerSec)
	}

	samplesPerPixel := max(b.SampleRate/pixelsPerSec, 1)

	numPixels := len(b.Samples) / samplesPerPixel
	if numPixels == 0 {
		return nil, fmt.Errorf("audio too short")
	}

	peaks := make([]float64, numPixels)
	troughs := make([]float64, numPixels)

	for i := range numPixels {
		start := i * samplesPerPixel
		end := min(start+samplesPerPixel, len(b.Samples))

		maxVal, minVal := -1.0, 1.0
		for _, s := range b.Samples[start:end] {
			maxVal = max(maxVal, s)
			minVal = min(minVal, s)
		}

		peaks[i] = maxVal
		troughs[i] = minVal
	}

	return &Waveform{
		PixelsPerSec: pixelsPerSec,
		Peaks:        peaks,
		Troughs:      troughs,
	}, nil
}
