package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Tempo provenance.
const (
	BPMFromMetadata = "from_metadata"
	BPMDetected     = "detected"
	BPMDefault      = "default"
)

// Metadata maps a file identifier to its dataset annotations.
type Metadata map[string]MetadataEntry

// MetadataEntry is one clip's metadata. Only annotations.bpm is read.
type MetadataEntry struct {
	Annotations map[string]any `json:"annotations"`
}

// LoadMetadata reads a metadata JSON file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return m, nil
}

// FileID is the basename prefix before the first underscore.
func FileID(path string) string {
	id, _, _ := strings.Cut(filepath.Base(path), "_")
	return id
}

// BPM returns the annotated tempo for path, if any.
func (m Metadata) BPM(path string) (float64, bool) {
	entry, ok := m[FileID(path)]
	if !ok {
		return 0, false
	}

	switch v := entry.Annotations["bpm"].(type) {
	case float64:
		return v, v > 0
	case string:
		bpm, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || bpm <= 0 {
			return 0, false
		}
		return bpm, true
	default:
		return 0, false
	}
}
