package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClassifier returns canned predictions keyed by clip length in samples.
type fakeClassifier struct {
	byLen map[int][]Prediction
}

func (f *fakeClassifier) Classify(_ context.Context, b audio.Buffer) ([]Prediction, error) {
	preds, ok := f.byLen[b.Len()]
	if !ok {
		return nil, errors.New("no canned prediction")
	}
	out := append([]Prediction{}, preds...)
	sortPredictions(out)
	return out, nil
}

func writeClip(t *testing.T, dir, name string, n int) {
	t.Helper()
	b := audio.Buffer{Samples: make([]float64, n), SampleRate: ModelSampleRate}
	for i := range b.Samples {
		b.Samples[i] = 0.1
	}
	require.NoError(t, audio.SaveWAV(filepath.Join(dir, name), b))
}

func TestParentScores(t *testing.T) {
	preds := []Prediction{
		{Label: "Electronic---House", Probability: 0.8},
		{Label: "Electronic---Techno", Probability: 0.4},
		{Label: "Rock---Punk", Probability: 0.5},
		{Label: "Funk / Soul---Disco", Probability: 0.7},
		{Label: "Electronica", Probability: 0.9},
	}

	scores := ParentScores(preds)
	assert.Len(t, scores, len(ParentGenres))
	assert.InDelta(t, 0.6, scores["Electronic"], 1e-12)
	assert.InDelta(t, 0.5, scores["Rock"], 1e-12)
	assert.InDelta(t, 0.7, scores["Funk / Soul"], 1e-12)
	assert.Equal(t, 0.0, scores["Jazz"])

	assert.Equal(t, "Funk / Soul", BestGenre(scores))
}

func TestBestGenre(t *testing.T) {
	assert.Equal(t, OtherGenre, BestGenre(ParentScores(nil)))
	assert.Equal(t, OtherGenre, BestGenre(ParentScores([]Prediction{{Label: "Jazz---Bop", Probability: 0}})))

	// Ties go to the earlier parent genre.
	tie := ParentScores([]Prediction{
		{Label: "Rock---Punk", Probability: 0.3},
		{Label: "Electronic---House", Probability: 0.3},
	})
	assert.Equal(t, "Electronic", BestGenre(tie))
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "Funk _ Soul", FolderName("Funk / Soul"))
	assert.Equal(t, "Children's Music", FolderName("Children's Music"))
}

func TestTop(t *testing.T) {
	preds := []Prediction{{Label: "a"}, {Label: "b"}}
	assert.Len(t, Top(preds, 5), 2)
	assert.Len(t, Top(preds, 1), 1)
	assert.Empty(t, Top(preds, -1))
}

func TestParseScriptOutput(t *testing.T) {
	preds, err := ParseScriptOutput([]byte(`{"labels": ["Rock---Punk", "Electronic---House"], "probabilities": [0.2, 0.9]}`))
	require.NoError(t, err)
	assert.Equal(t, []Prediction{
		{Label: "Electronic---House", Probability: 0.9},
		{Label: "Rock---Punk", Probability: 0.2},
	}, preds)

	_, err = ParseScriptOutput([]byte(`{"labels": ["a"], "probabilities": []}`))
	assert.Error(t, err)

	_, err = ParseScriptOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, sigmoid(0))
	assert.Greater(t, sigmoid(4), 0.98)
	assert.Less(t, sigmoid(-4), 0.02)
}

func TestOrganizerRun(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "classified")

	writeClip(t, src, "a_processed.wav", 1000)
	writeClip(t, src, "b_processed.wav", 2000)
	writeClip(t, src, "c_processed.wav", 3000)
	writeClip(t, src, "d_processed.wav", 4000)

	o := NewOrganizer(&fakeClassifier{byLen: map[int][]Prediction{
		1000: {
			{Label: "Electronic---House", Probability: 0.9},
			{Label: "Rock---Punk", Probability: 0.1},
		},
		2000: {
			{Label: "Funk / Soul---Disco", Probability: 0.6},
			{Label: "Electronic---House", Probability: 0.2},
		},
		3000: {
			{Label: "Jazz---Bop", Probability: 0},
		},
	}})
	o.Output = io.Discard

	org, err := o.Run(context.Background(), src, out)
	require.NoError(t, err)

	assert.Equal(t, []string{"d_processed.wav"}, org.Failed)
	require.Len(t, org.Labels, 3)
	assert.Equal(t, "a_processed.wav", org.Labels[0].File)
	assert.Equal(t, "Electronic", org.Labels[0].Genre)
	assert.Equal(t, []string{"Electronic---House", "Rock---Punk"}, org.Labels[0].Labels)
	assert.Equal(t, []float64{0.9, 0.1}, org.Labels[0].TopProbabilities)
	assert.Equal(t, 0.9, org.Labels[0].TopProbsDict["Electronic---House"])
	assert.Equal(t, "Funk / Soul", org.Labels[1].Genre)
	assert.Equal(t, OtherGenre, org.Labels[2].Genre)

	assert.FileExists(t, filepath.Join(out, "Electronic", "a_processed.wav"))
	assert.FileExists(t, filepath.Join(out, "Funk _ Soul", "b_processed.wav"))
	assert.FileExists(t, filepath.Join(out, OtherGenre, "c_processed.wav"))
	assert.NoDirExists(t, filepath.Join(out, "Rock"))
	assert.NoDirExists(t, filepath.Join(out, "Children's Music"))

	data, err := os.ReadFile(filepath.Join(out, DistributionFile))
	require.NoError(t, err)
	var dist map[string]int
	require.NoError(t, json.Unmarshal(data, &dist))
	assert.Len(t, dist, len(ParentGenres)+1)
	assert.Equal(t, 1, dist["Electronic"])
	assert.Equal(t, 1, dist["Funk / Soul"])
	assert.Equal(t, 1, dist[OtherGenre])
	assert.Equal(t, 0, dist["Rock"])

	data, err = os.ReadFile(filepath.Join(out, LabelsFile))
	require.NoError(t, err)
	var labels []Label
	require.NoError(t, json.Unmarshal(data, &labels))
	assert.Len(t, labels, 3)
}

func TestOrganizerMissingDir(t *testing.T) {
	o := NewOrganizer(&fakeClassifier{})
	o.Output = io.Discard
	_, err := o.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Error(t, err)
}

func TestONNXClassifier(t *testing.T) {
	c, err := NewONNX("")
	if err != nil {
		t.Skipf("genre models not available: %v", err)
	}
	defer c.Close()

	b := audio.Buffer{Samples: make([]float64, ModelSampleRate*5), SampleRate: ModelSampleRate}
	preds, err := c.Classify(context.Background(), b)
	require.NoError(t, err)
	assert.Len(t, preds, len(c.Labels()))
	for i := 1; i < len(preds); i++ {
		assert.GreaterOrEqual(t, preds[i-1].Probability, preds[i].Probability)
	}
}

func TestOrganizerCancelled(t *testing.T) {
	src := t.TempDir()
	writeClip(t, src, "a_processed.wav", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrganizer(&fakeClassifier{})
	o.Output = io.Discard
	_, err := o.Run(ctx, src, filepath.Join(t.TempDir(), "classified"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewScriptNeedsScript(t *testing.T) {
	_, err := NewScript("")
	assert.ErrorIs(t, err, ErrNoScript)

	_, err = NewScript(filepath.Join(t.TempDir(), "missing.py"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
