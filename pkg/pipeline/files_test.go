package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFilename(t *testing.T) {
	tests := map[string]string{
		"425998_9497060.wav.wav":   "4259989497060",
		"loop_processed.wav":       "loop",
		"a_b_c.WAV":                "abc",
		"dir/nested_name.flac.wav": "nestedname",
		"no_extension":             "noextension",
		"12_x_processed.wav.tmp":   "12x",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanFilename(in), in)
	}

	assert.Equal(t, "4259989497060_processed.wav", OutputName("425998_9497060.wav.wav"))
	assert.Equal(t, "7loop_processed.wav", OutputName("7_loop.mp3"))
}

func TestFileID(t *testing.T) {
	assert.Equal(t, "425998", FileID("FSL10K/audio/wav/425998_9497060.wav.wav"))
	assert.Equal(t, "plain.wav", FileID("plain.wav"))
}

func TestListAudio(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.WAV", "c.mp3", "d.flac", "e.txt", "f.wav.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755))

	files, err := ListAudio(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.WAV", "b.wav", "c.mp3", "d.flac"}, files)

	_, err = ListAudio(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestShuffle(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	first := Shuffle(files, 42)
	assert.Equal(t, first, Shuffle(files, 42))
	assert.ElementsMatch(t, files, first)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, files, "input is not modified")
}

func TestLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	data := `{
  "425998": {"annotations": {"bpm": 124, "genres": ["House"]}},
  "7": {"annotations": {"bpm": "96.5"}},
  "8": {"annotations": {"key": "A minor"}},
  "9": {"annotations": {"bpm": "fast"}}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	md, err := LoadMetadata(path)
	require.NoError(t, err)
	require.Len(t, md, 4)

	bpm, ok := md.BPM("dir/425998_9497060.wav.wav")
	assert.True(t, ok)
	assert.Equal(t, 124.0, bpm)

	bpm, ok = md.BPM("7_x.wav")
	assert.True(t, ok)
	assert.Equal(t, 96.5, bpm)

	_, ok = md.BPM("8_x.wav")
	assert.False(t, ok)
	_, ok = md.BPM("9_x.wav")
	assert.False(t, ok)
	_, ok = md.BPM("10_x.wav")
	assert.False(t, ok)

	var none Metadata
	_, ok = none.BPM("7_x.wav")
	assert.False(t, ok)
}

func TestLoadMetadataErrors(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadMetadata(path)
	assert.Error(t, err)
}
