package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nzoschke/loopprep/pkg/audio"
)

var extensions = regexp.MustCompile(`(\.\w+)+$`)

// CleanFilename strips every trailing extension, the _processed marker and all underscores.
func CleanFilename(name string) string {
	base := extensions.ReplaceAllString(filepath.Base(name), "")
	base = strings.ReplaceAll(base, "_processed", "")
	return strings.ReplaceAll(base, "_", "")
}

// OutputName is the processed clip filename for an input file.
func OutputName(name string) string {
	return CleanFilename(name) + "_processed.wav"
}

// ListAudio returns the names of decodable audio files directly in dir, sorted.
func ListAudio(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if audio.IsSupported(filepath.Ext(e.Name())) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Shuffle returns a copy of files in an order fixed by seed.
func Shuffle(files []string, seed int64) []string {
	out := make([]string, len(files))
	copy(out, files)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
