package tempo

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// fakeStretcher returns a buffer whose first sample records the ratio it was asked for.
type fakeStretcher struct {
	name  string
	err   error
	calls int
}

func (f *fakeStretcher) Name() string { return f.name }

func (f *fakeStretcher) Stretch(_ context.Context, b audio.Buffer, ratio float64) (audio.Buffer, error) {
	f.calls++
	if f.err != nil {
		return audio.Buffer{}, f.err
	}
	return audio.Buffer{Samples: []float64{ratio, float64(len(f.name))}, SampleRate: b.SampleRate}, nil
}

// fakeDetector reports a tempo per candidate, keyed by the candidate's name length.
type fakeDetector map[int]float64

func (d fakeDetector) DetectBPM(b audio.Buffer) (float64, error) {
	bpm, ok := d[int(b.Samples[1])]
	if !ok {
		return 120, errors.New("no tempo")
	}
	return bpm, nil
}

func input() audio.Buffer {
	return audio.Buffer{Samples: []float64{0.1, 0.2, 0.3}, SampleRate: 44100}
}

func TestConvertPicksClosestCandidate(t *testing.T) {
	a := &fakeStretcher{name: "a"}
	bb := &fakeStretcher{name: "bb"}
	c := NewConverter(fakeDetector{1: 114, 2: 119.5}, a, bb)

	conv := c.Convert(context.Background(), input(), 100, 120)
	assert.True(t, conv.Converted)
	assert.Equal(t, "bb", conv.Method)
	assert.Equal(t, 119.5, conv.DetectedBPM)
	assert.InDelta(t, 1.2, conv.Buffer.Samples[0], 1e-12)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, bb.calls)
}

func TestConvertTieKeepsFirstStrategy(t *testing.T) {
	a := &fakeStretcher{name: "a"}
	bb := &fakeStretcher{name: "bb"}
	c := NewConverter(fakeDetector{1: 121, 2: 119}, a, bb)

	conv := c.Convert(context.Background(), input(), 100, 120)
	assert.Equal(t, "a", conv.Method)
}

func TestConvertOneStrategyFails(t *testing.T) {
	a := &fakeStretcher{name: "a", err: errors.New("boom")}
	bb := &fakeStretcher{name: "bb"}
	c := NewConverter(fakeDetector{2: 130}, a, bb)

	conv := c.Convert(context.Background(), input(), 100, 120)
	assert.True(t, conv.Converted)
	assert.Equal(t, "bb", conv.Method)
}

func TestConvertAllFailReturnsOriginal(t *testing.T) {
	in := input()
	c := NewConverter(fakeDetector{},
		&fakeStretcher{name: "a", err: errors.New("boom")},
		&fakeStretcher{name: "bb", err: errors.New("boom")},
	)

	conv := c.Convert(context.Background(), in, 100, 120)
	assert.False(t, conv.Converted)
	assert.Empty(t, conv.Method)
	assert.Equal(t, in, conv.Buffer)
}

func TestConvertInvalidTempo(t *testing.T) {
	in := input()
	a := &fakeStretcher{name: "a"}
	c := NewConverter(fakeDetector{1: 120}, a)

	conv := c.Convert(context.Background(), in, 0, 120)
	assert.False(t, conv.Converted)
	assert.Equal(t, in, conv.Buffer)
	assert.Zero(t, a.calls)
}

func TestRatio(t *testing.T) {
	r, err := Ratio(100, 120)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, r, 1e-12)

	_, err = Ratio(-1, 120)
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func TestAtempoFactors(t *testing.T) {
	tests := []struct {
		ratio float64
		want  []float64
	}{
		{1.2, []float64{1.2}},
		{0.5, []float64{0.5}},
		{2, []float64{2}},
		{3, []float64{2, 1.5}},
		{5, []float64{2, 2, 1.25}},
		{0.3, []float64{0.5, 0.6}},
		{0.1, []float64{0.5, 0.5, 0.5, 0.8}},
	}

	for _, tt := range tests {
		got := AtempoFactors(tt.ratio)
		assert.InDeltaSlice(t, tt.want, got, 1e-9, "ratio %g", tt.ratio)

		product := 1.0
		for _, f := range got {
			assert.GreaterOrEqual(t, f, MinAtempo)
			assert.LessOrEqual(t, f, MaxAtempo)
			product *= f
		}
		assert.InDelta(t, tt.ratio, product, 1e-9)
	}
}

func TestFilters(t *testing.T) {
	assert.Equal(t, "atempo=1.2", atempoFilter(1.2))
	assert.Equal(t, "atempo=2,atempo=1.5", atempoFilter(3))
	assert.Equal(t, "asetrate=52920,aresample=44100", rateFilter(44100, 1.2, 44100))
}

func TestNativeRateStretcher(t *testing.T) {
	in := audio.Buffer{Samples: make([]float64, 44100), SampleRate: 44100}
	for i := range in.Samples {
		in.Samples[i] = math.Sin(2 * math.Pi * 220 * float64(i) / 44100)
	}

	out, err := NativeRateStretcher{SampleRate: 44100}.Stretch(context.Background(), in, 1.25)
	require.NoError(t, err)
	assert.Equal(t, 44100, out.SampleRate)
	// 25% faster is 20% shorter
	assert.InDelta(t, 35280, out.Len(), 35280*0.02)

	_, err = NativeRateStretcher{}.Stretch(context.Background(), in, 0)
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func requireFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func TestFFmpegStretchers(t *testing.T) {
	ffmpeg := requireFFmpeg(t)
	scratch := t.TempDir()

	in := audio.Buffer{Samples: make([]float64, 2*44100), SampleRate: 44100}
	for i := range in.Samples {
		in.Samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/44100)
	}

	for _, s := range []Stretcher{NewAtempo(ffmpeg, scratch, 44100), NewRate(ffmpeg, scratch, 44100)} {
		t.Run(s.Name(), func(t *testing.T) {
			out, err := s.Stretch(context.Background(), in, 2.5)
			require.NoError(t, err)
			assert.Equal(t, 44100, out.SampleRate)
			assert.InDelta(t, float64(in.Len())/2.5, out.Len(), 44100*0.05)
		})
	}

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dirs are removed")
}

func TestFFmpegFailureCleansUp(t *testing.T) {
	scratch := t.TempDir()
	s := NewAtempo("/nonexistent/ffmpeg", scratch, 44100)

	_, err := s.Stretch(context.Background(), input(), 1.2)
	assert.Error(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
