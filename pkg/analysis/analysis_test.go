package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// gridBPM puts one beat every 20 frames at 22050 Hz (40 at 44100 Hz), so
// every click lands on the same frame phase.
const gridBPM = 22050 * 60 / (512 * 20.0)

// clickTrack renders decaying noise bursts at bpm after a short lead-in.
// accents scales successive clicks cyclically; nil means all clicks at full level.
func clickTrack(bpm, seconds float64, sampleRate int, accents []float64) audio.Buffer {
	rng := rand.New(rand.NewSource(1))
	samples := make([]float64, int(seconds*float64(sampleRate)))
	interval := 60 / bpm * float64(sampleRate)
	leadIn := sampleRate / 10
	clickLen := sampleRate / 100

	for k := 0; ; k++ {
		start := leadIn + int(math.Round(float64(k)*interval))
		if start >= len(samples) {
			break
		}
		gain := 1.0
		if len(accents) > 0 {
			gain = accents[k%len(accents)]
		}
		for i := 0; i < clickLen && start+i < len(samples); i++ {
			decay := math.Exp(-5 * float64(i) / float64(clickLen))
			samples[start+i] = gain * 0.8 * decay * (rng.Float64()*2 - 1)
		}
	}
	return audio.Buffer{Samples: samples, SampleRate: sampleRate}
}

func TestDetectBPM(t *testing.T) {
	a := New()

	for _, bpm := range []float64{100, 120, 128} {
		got, err := a.DetectBPM(clickTrack(bpm, 12, 44100, nil))
		require.NoError(t, err)
		assert.InDelta(t, bpm, got, 2.5, "click track at %.0f BPM", bpm)
		t.Logf("%.0f BPM click track detected as %.2f", bpm, got)
	}
}

func TestDetectBPMSilenceFallsBack(t *testing.T) {
	a := New()

	got, err := a.DetectBPM(audio.Buffer{Samples: make([]float64, 44100*3), SampleRate: 44100})
	assert.Error(t, err)
	assert.Equal(t, DefaultBPM, got)

	got, err = a.DetectBPM(audio.Buffer{SampleRate: 44100})
	assert.ErrorIs(t, err, ErrNoSignal)
	assert.Equal(t, DefaultBPM, got)
}

func TestEstimateTimeSignature(t *testing.T) {
	a := New()

	ts := a.EstimateTimeSignature(clickTrack(gridBPM, 12, 44100, []float64{1, 0.05, 0.05, 0.05}))
	assert.Equal(t, 4, ts)

	ts = a.EstimateTimeSignature(clickTrack(gridBPM, 12, 44100, []float64{1, 0.05, 0.05}))
	assert.Equal(t, 3, ts)
}

func TestEstimateTimeSignatureTooFewBeats(t *testing.T) {
	a := New()

	// silence tracks no beats, which is too little evidence to reject
	ts := a.EstimateTimeSignature(audio.Buffer{Samples: make([]float64, 44100*5), SampleRate: 44100})
	assert.Equal(t, DefaultTimeSignature, ts)

	// two clicks are fewer than 8 beats
	ts = a.EstimateTimeSignature(clickTrack(120, 1, 44100, nil))
	assert.Equal(t, DefaultTimeSignature, ts)
}

func TestEstimateTimeSignatureFailure(t *testing.T) {
	a := New()

	assert.Equal(t, UnknownTimeSignature, a.EstimateTimeSignature(audio.Buffer{SampleRate: 44100}))
	assert.Equal(t, UnknownTimeSignature, a.EstimateTimeSignature(audio.Buffer{Samples: []float64{0, 1}}))
}

func TestTrack(t *testing.T) {
	a := New()

	track := a.Track(clickTrack(gridBPM, 12, 44100, []float64{1, 0.05, 0.05, 0.05}), 4)

	assert.InDelta(t, gridBPM, track.BPM, 2.5)
	assert.GreaterOrEqual(t, len(track.Times), 20)
	assert.LessOrEqual(t, len(track.Times), 26)
	assert.Greater(t, track.Confidence, 0.8)
	assert.LessOrEqual(t, track.Confidence, 1.0)

	for i := 1; i < len(track.Times); i++ {
		assert.Greater(t, track.Times[i], track.Times[i-1], "beat times must increase")
	}

	require.NotEmpty(t, track.Downbeats)
	for i, d := range track.Downbeats {
		assert.Less(t, d, len(track.Times))
		if i > 0 {
			assert.Equal(t, 4, d-track.Downbeats[i-1])
		}
	}
	assert.Less(t, track.Downbeats[0], 4)

	t.Logf("beats=%d downbeats=%d confidence=%.3f", len(track.Times), len(track.Downbeats), track.Confidence)
}

func TestTrackStrideDownbeats(t *testing.T) {
	a := New()
	a.Downbeats = DownbeatsStride

	track := a.Track(clickTrack(120, 12, 44100, nil), 4)
	require.NotEmpty(t, track.Times)
	assert.Equal(t, StrideDownbeats(len(track.Times), 4), track.Downbeats)
}

func TestTrackRejectsOtherTimeSignatures(t *testing.T) {
	a := New()

	track := a.Track(clickTrack(120, 12, 44100, nil), 3)
	assert.Empty(t, track.Times)
	assert.Empty(t, track.Downbeats)
	assert.Zero(t, track.Confidence)
}
