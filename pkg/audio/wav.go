package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE

	// Bit depth of clips written by SaveWAV.
	outputBitDepth = 16
)

var errUnsupportedWAV = errors.New("unsupported wav encoding")

// loadWAV decodes an integer PCM WAV file to mono.
func loadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Buffer{}, fmt.Errorf("invalid wav file: %s", path)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return Buffer{}, fmt.Errorf("%w: format %d", errUnsupportedWAV, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("wav has no sample rate: %s", path)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return Buffer{}, fmt.Errorf("%w: %d-bit", errUnsupportedWAV, bitDepth)
	}

	// 8-bit WAV is unsigned
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}
	scale := math.Pow(2, float64(bitDepth-1))

	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = (float64(v) - offset) / scale
	}

	samples := Mixdown(interleaved, buf.Format.NumChannels)
	if len(samples) == 0 {
		return Buffer{}, fmt.Errorf("wav has no samples: %s", path)
	}

	return Buffer{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// SaveWAV writes b as a 16-bit mono PCM WAV file.
func SaveWAV(path string, b Buffer) error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	scale := math.Pow(2, outputBitDepth-1) - 1
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * scale))
	}

	enc := wav.NewEncoder(f, b.SampleRate, outputBitDepth, 1, wavFormatPCM)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}
	if err := enc.Write(ib); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
