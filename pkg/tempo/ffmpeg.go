package tempo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nzoschke/loopprep/pkg/audio"
)

const (
	MethodAtempo = "atempo"
	MethodRate   = "asetrate"
	MethodNative = "native-rate"
)

// FFmpeg runs one filter per call in its own scratch directory.
type FFmpeg struct {
	Path       string // ffmpeg binary
	ScratchDir string // parent of per-call temp dirs, "" for the OS default
	SampleRate int    // output rate
}

// AtempoStretcher changes duration without changing pitch.
type AtempoStretcher struct{ FFmpeg }

// RateStretcher changes the nominal sample rate, shifting pitch with speed.
type RateStretcher struct{ FFmpeg }

// NewAtempo returns an atempo stretcher writing at sampleRate.
func NewAtempo(path, scratch string, sampleRate int) *AtempoStretcher {
	return &AtempoStretcher{FFmpeg{Path: path, ScratchDir: scratch, SampleRate: sampleRate}}
}

// NewRate returns an asetrate stretcher writing at sampleRate.
func NewRate(path, scratch string, sampleRate int) *RateStretcher {
	return &RateStretcher{FFmpeg{Path: path, ScratchDir: scratch, SampleRate: sampleRate}}
}

func (s *AtempoStretcher) Name() string { return MethodAtempo }

func (s *AtempoStretcher) Stretch(ctx context.Context, b audio.Buffer, ratio float64) (audio.Buffer, error) {
	if ratio <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %g", ErrInvalidRatio, ratio)
	}
	return s.run(ctx, b, atempoFilter(ratio))
}

func (s *RateStretcher) Name() string { return MethodRate }

func (s *RateStretcher) Stretch(ctx context.Context, b audio.Buffer, ratio float64) (audio.Buffer, error) {
	if ratio <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %g", ErrInvalidRatio, ratio)
	}
	return s.run(ctx, b, rateFilter(b.SampleRate, ratio, s.outRate(b)))
}

func (f FFmpeg) outRate(b audio.Buffer) int {
	if f.SampleRate > 0 {
		return f.SampleRate
	}
	return b.SampleRate
}

func (f FFmpeg) binary() string {
	if f.Path != "" {
		return f.Path
	}
	return audio.FFmpegPath
}

// run writes b to a scratch WAV, filters it and reads the result back.
// The scratch directory is always removed.
func (f FFmpeg) run(ctx context.Context, b audio.Buffer, filter string) (audio.Buffer, error) {
	dir, err := os.MkdirTemp(f.ScratchDir, "tempo-*")
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	if err := audio.SaveWAV(in, b); err != nil {
		return audio.Buffer{}, fmt.Errorf("write scratch input: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.binary(),
		"-v", "error",
		"-y",
		"-i", in,
		"-filter:a", filter,
		"-ac", "1",
		"-ar", strconv.Itoa(f.outRate(b)),
		out,
	)

	if _, err := cmd.Output(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if stderr == "" {
				stderr = "unknown error"
			}
			return audio.Buffer{}, fmt.Errorf("ffmpeg %s failed: %s", filter, stderr)
		}
		return audio.Buffer{}, fmt.Errorf("ffmpeg %s failed: %w", filter, err)
	}

	return audio.Load(out)
}
