package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/schollz/logger"
)

// FFmpegPath is the binary used for formats without a native decoder.
var FFmpegPath = "ffmpeg"

// Load decodes an audio file and collapses it to mono.
// WAV and MP3 are decoded natively, anything else goes through ffmpeg at DefaultSampleRate.
func Load(path string) (Buffer, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".wav", ".wave":
		b, err := loadWAV(path)
		if errors.Is(err, errUnsupportedWAV) {
			log.Debugf("%s: %v, decoding with ffmpeg", filepath.Base(path), err)
			return DecodeFFmpeg(context.Background(), path, DefaultSampleRate)
		}
		return b, err
	case ".mp3":
		return loadMP3(path)
	default:
		return DecodeFFmpeg(context.Background(), path, DefaultSampleRate)
	}
}

// LoadAt decodes an audio file as mono and resamples it to sampleRate.
func LoadAt(path string, sampleRate int) (Buffer, error) {
	b, err := Load(path)
	if err != nil {
		return Buffer{}, err
	}
	return Resample(b, sampleRate)
}

// IsSupported returns true if the file extension is a supported audio format.
func IsSupported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg", ".aiff":
		return true
	default:
		return false
	}
}

// DecodeFFmpeg decodes any file ffmpeg understands to mono float64 at sampleRate.
func DecodeFFmpeg(ctx context.Context, path string, sampleRate int) (Buffer, error) {
	cmd := exec.CommandContext(ctx, FFmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if stderr == "" {
				stderr = "unknown error"
			}
			return Buffer{}, fmt.Errorf("ffmpeg decode failed: %s", stderr)
		}
		return Buffer{}, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := make([]float64, len(output)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(output[i*8:]))
	}
	if len(samples) == 0 {
		return Buffer{}, fmt.Errorf("ffmpeg decoded no samples from %s", filepath.Base(path))
	}

	return Buffer{Samples: samples, SampleRate: sampleRate}, nil
}
