// Package analysis provides tempo, beat, downbeat and time-signature estimation.
package analysis

import (
	"errors"
	"fmt"

	log "github.com/schollz/logger"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// ErrOutOfRange means a detected tempo fell outside [MinBPM, MaxBPM].
var ErrOutOfRange = errors.New("tempo out of range")

// DownbeatMethod selects the downbeat estimator.
type DownbeatMethod string

const (
	DownbeatsChroma DownbeatMethod = "chroma" // onset + chroma peaks, anchored stride
	DownbeatsStride DownbeatMethod = "stride" // every Nth beat from the first
)

// BeatTrack holds beat times and the subset marked as downbeats.
type BeatTrack struct {
	BPM        float64   `json:"bpm"`
	Times      []float64 `json:"beats"`     // seconds, increasing
	Downbeats  []int     `json:"downbeats"` // indices into Times, increasing
	Confidence float64   `json:"confidence"`
}

// Analyzer runs the onset-based estimators on mono buffers.
type Analyzer struct {
	STFT            STFTConfig
	Tightness       float64
	Downbeats       DownbeatMethod
	RequiredTimeSig int
}

// New creates an Analyzer with the default framing that accepts only 4/4 material.
func New() *Analyzer {
	return &Analyzer{
		STFT:            DefaultSTFT,
		Tightness:       DefaultTightness,
		Downbeats:       DownbeatsChroma,
		RequiredTimeSig: DefaultTimeSignature,
	}
}

// DetectBPM estimates the tempo of b. When detection fails or the result falls
// outside [MinBPM, MaxBPM] it returns DefaultBPM together with the reason.
func (a *Analyzer) DetectBPM(b audio.Buffer) (float64, error) {
	if b.Len() == 0 || b.SampleRate <= 0 {
		return DefaultBPM, fmt.Errorf("detect bpm: %w", ErrNoSignal)
	}

	env := OnsetStrength(b.Samples, a.STFT)
	bpm, err := EstimateTempo(env, a.STFT.FrameRate(b.SampleRate))
	if err != nil {
		return DefaultBPM, fmt.Errorf("detect bpm: %w", err)
	}
	if bpm < MinBPM || bpm > MaxBPM {
		return DefaultBPM, fmt.Errorf("detect bpm: %w: %.1f", ErrOutOfRange, bpm)
	}
	return bpm, nil
}

// EstimateTimeSignature returns beats per bar for b, DefaultTimeSignature when
// fewer than 8 beats are found, and UnknownTimeSignature when analysis fails.
func (a *Analyzer) EstimateTimeSignature(b audio.Buffer) int {
	if b.Len() == 0 || b.SampleRate <= 0 {
		return UnknownTimeSignature
	}

	x, err := audio.Resample(b, TimeSignatureRate)
	if err != nil {
		log.Debugf("time signature: %v", err)
		return UnknownTimeSignature
	}

	env := OnsetStrength(x.Samples, a.STFT)
	frames := a.trackFrames(env, a.STFT.FrameRate(x.SampleRate))
	if len(frames) < minTimeSigBeats {
		return DefaultTimeSignature
	}

	strengths := make([]float64, len(frames))
	for i, f := range frames {
		strengths[i] = env[min(max(f, 0), len(env)-1)]
	}
	return TimeSignatureFromStrengths(strengths)
}

// Track finds beats and downbeats in b given its time signature.
// A time signature other than RequiredTimeSig yields an empty track with zero confidence.
func (a *Analyzer) Track(b audio.Buffer, timeSig int) BeatTrack {
	if timeSig != a.RequiredTimeSig || b.Len() == 0 || b.SampleRate <= 0 {
		return BeatTrack{}
	}

	spec := PowerSpectrogram(b.Samples, a.STFT)
	env := onsetFromSpectrogram(spec)
	fps := a.STFT.FrameRate(b.SampleRate)

	bpm, err := EstimateTempo(env, fps)
	if err != nil {
		log.Debugf("beat tracking: %v", err)
		return BeatTrack{}
	}

	frames := TrackBeats(env, fps, bpm, a.Tightness)
	times := a.STFT.FramesToTime(frames, b.SampleRate)

	var downbeats []int
	switch a.Downbeats {
	case DownbeatsStride:
		downbeats = StrideDownbeats(len(frames), timeSig)
	default:
		chroma := Chroma(spec, b.SampleRate, a.STFT.FFTSize)
		downbeats = EstimateDownbeats(env, chroma, frames, timeSig)
	}

	return BeatTrack{
		BPM:        bpm,
		Times:      times,
		Downbeats:  downbeats,
		Confidence: BeatConfidence(times),
	}
}

func (a *Analyzer) trackFrames(env []float64, fps float64) []int {
	bpm, err := EstimateTempo(env, fps)
	if err != nil {
		return nil
	}
	return TrackBeats(env, fps, bpm, a.Tightness)
}
