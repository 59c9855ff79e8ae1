package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/nzoschke/loopprep/pkg/pipeline"
	"github.com/nzoschke/loopprep/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (string, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	processed := filepath.Join(dir, pipeline.ProcessedDir)
	require.NoError(t, os.MkdirAll(processed, 0o755))

	b := audio.Buffer{Samples: make([]float64, audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}
	for i := range b.Samples {
		b.Samples[i] = 0.5
	}
	clip := filepath.Join(processed, "1_processed.wav")
	require.NoError(t, audio.SaveWAV(clip, b))
	require.NoError(t, os.WriteFile(filepath.Join(processed, "1_processed.json"), []byte(`{"file": "1_a.wav"}`), 0o644))
	require.NoError(t, audio.SaveWAV(filepath.Join(processed, "2_processed.wav"), b))
	require.NoError(t, os.WriteFile(filepath.Join(dir, pipeline.SummaryFile), []byte(`{"total_files": 1}`), 0o644))

	st, err := store.Open(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Put(store.Record{File: "1_a.wav", Output: clip, Status: "success", FinalBPM: 120}))
	require.NoError(t, st.Put(store.Record{File: "3_c.wav", Status: "failed", Error: "boom"}))

	return dir, st
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestListClips(t *testing.T) {
	dir, st := setup(t)
	s := New(dir, st)

	rec := get(t, s, "/api/clips")
	require.Equal(t, http.StatusOK, rec.Code)

	var clips []Clip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clips))
	require.Len(t, clips, 2)

	assert.Equal(t, "1_processed", clips[0].Name)
	assert.Equal(t, "processed/1_processed.wav", clips[0].Path)
	assert.True(t, clips[0].HasJSON)
	assert.Equal(t, "processed/1_processed.json", clips[0].JSONPath)
	require.NotNil(t, clips[0].Record)
	assert.Equal(t, 120.0, clips[0].Record.FinalBPM)

	assert.False(t, clips[1].HasJSON)
	assert.Nil(t, clips[1].Record)
}

func TestListClipsEmpty(t *testing.T) {
	rec := get(t, New(t.TempDir(), nil), "/api/clips")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListClipsAudioTypes(t *testing.T) {
	dir := t.TempDir()
	processed := filepath.Join(dir, pipeline.ProcessedDir)
	require.NoError(t, os.MkdirAll(processed, 0o755))
	for _, name := range []string{"a.flac", "b.MP3", "c.txt", "d.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(processed, name), nil, 0o644))
	}

	rec := get(t, New(dir, nil), "/api/clips")
	require.Equal(t, http.StatusOK, rec.Code)

	var clips []Clip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clips))
	require.Len(t, clips, 2)
	assert.Equal(t, "processed/a.flac", clips[0].Path)
	assert.Equal(t, "processed/b.MP3", clips[1].Path)
}

func TestServeClip(t *testing.T) {
	dir, st := setup(t)
	s := New(dir, st)

	rec := get(t, s, "/api/clips/processed/1_processed.wav")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFF", rec.Body.String()[:4])

	rec = get(t, s, "/api/clips/processed/1_processed.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"file": "1_a.wav"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/clips/processed/missing.wav").Code)
	assert.Equal(t, http.StatusForbidden, get(t, s, "/api/clips/processed").Code)
	assert.Equal(t, http.StatusForbidden, get(t, s, "/api/clips/records.db").Code)
	assert.Equal(t, http.StatusForbidden, get(t, s, "/api/clips/processed/..%2F..%2Fetc%2Fpasswd").Code)
}

func TestWaveform(t *testing.T) {
	dir, st := setup(t)
	s := New(dir, st)

	rec := get(t, s, "/api/clips/processed/1_processed.wav/waveform")
	require.Equal(t, http.StatusOK, rec.Code)

	var w audio.Waveform
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	assert.Equal(t, WaveformResolution, w.PixelsPerSec)
	assert.Len(t, w.Peaks, WaveformResolution)
	assert.InDelta(t, 0.5, w.Peaks[0], 1e-3)

	assert.Equal(t, http.StatusForbidden, get(t, s, "/api/clips/processed/1_processed.json/waveform").Code)
}

func TestSummary(t *testing.T) {
	dir, st := setup(t)

	rec := get(t, New(dir, st), "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_files": 1}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, New(t.TempDir(), nil), "/api/summary").Code)
}

func TestRecords(t *testing.T) {
	dir, st := setup(t)
	s := New(dir, st)

	var recs []store.Record
	rec := get(t, s, "/api/records")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	rec = get(t, s, "/api/records?status=failed")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "boom", recs[0].Error)

	rec = get(t, New(dir, nil), "/api/records")
	assert.JSONEq(t, `[]`, rec.Body.String())
}
