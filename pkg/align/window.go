package align

import (
	"github.com/nzoschke/loopprep/pkg/analysis"
	"github.com/nzoschke/loopprep/pkg/audio"
)

const (
	DefaultTargetBeats         = 32
	DefaultConfidenceThreshold = 0.3
	// ReferenceBPM fixes the output duration independent of the detected tempo.
	ReferenceBPM = 120.0

	minAlignBeats = 4
)

// Windower picks a downbeat-anchored window of TargetBeats reference beats.
type Windower struct {
	TargetBeats         int
	ConfidenceThreshold float64
	ReferenceBPM        float64
}

// NewWindower returns a Windower with the default beat count, threshold and reference tempo.
func NewWindower() Windower {
	return Windower{
		TargetBeats:         DefaultTargetBeats,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ReferenceBPM:        ReferenceBPM,
	}
}

// Result is a windowed clip and how it was cut.
type Result struct {
	Buffer        audio.Buffer
	Aligned       bool
	StartSample   int
	TargetSamples int
	Confidence    float64
}

// TargetSamples is the exact output length at sampleRate.
func (w Windower) TargetSamples(sampleRate int) int {
	return TargetSamples(w.TargetBeats, w.ReferenceBPM, sampleRate)
}

// Window cuts b to exactly TargetSamples. With usable beats it starts at the
// first downbeat that still has TargetBeats beats after it, tiling the tail if
// the buffer runs out. Otherwise the whole buffer is normalized and Aligned is false.
func (w Windower) Window(b audio.Buffer, track analysis.BeatTrack) Result {
	n := w.TargetSamples(b.SampleRate)
	res := Result{TargetSamples: n, Confidence: track.Confidence}

	if !w.usable(track) {
		res.Buffer = EnsureExactLength(b, n)
		return res
	}

	idx := track.Downbeats[0]
	for _, d := range track.Downbeats {
		if len(track.Times)-d >= w.TargetBeats {
			idx = d
			break
		}
	}

	start := int(track.Times[idx] * float64(b.SampleRate))
	if start < 0 || start >= b.Len() {
		// anchor past the end of the audio: keep the clip from the top
		res.Buffer = EnsureExactLength(b, n)
		return res
	}

	res.StartSample = start
	res.Aligned = true
	res.Buffer = EnsureExactLength(audio.Buffer{Samples: b.Samples[start:], SampleRate: b.SampleRate}, n)
	return res
}

func (w Windower) usable(track analysis.BeatTrack) bool {
	switch {
	case track.Times == nil:
		return false
	case track.Confidence < w.ConfidenceThreshold:
		return false
	case len(track.Times) < minAlignBeats:
		return false
	case len(track.Downbeats) == 0:
		return false
	}
	d := track.Downbeats[0]
	return d >= 0 && d < len(track.Times)
}
