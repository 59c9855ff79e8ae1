package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// ScriptOut is the JSON a classifier script prints: one probability per label.
type ScriptOut struct {
	Labels        []string  `json:"labels"`
	Probabilities []float64 `json:"probabilities"`
}

// ScriptClassifier runs a Python genre classifier through uv.
type ScriptClassifier struct {
	uvPath     string
	scriptPath string
}

// ErrNoScript means the script classifier was created without a script path.
var ErrNoScript = errors.New("classifier script path required")

// NewScript creates a classifier that runs scriptPath with uv. The script takes
// --json <file> and prints ScriptOut.
func NewScript(scriptPath string) (*ScriptClassifier, error) {
	if scriptPath == "" {
		return nil, ErrNoScript
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("classifier script: %w", err)
	}

	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return nil, fmt.Errorf("uv not found - install with: curl -LsSf https://astral.sh/uv/install.sh | sh")
	}

	return &ScriptClassifier{
		uvPath:     uvPath,
		scriptPath: scriptPath,
	}, nil
}

// Classify writes b to a scratch WAV and classifies it.
func (c *ScriptClassifier) Classify(ctx context.Context, b audio.Buffer) ([]Prediction, error) {
	dir, err := os.MkdirTemp("", "classify-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "clip.wav")
	if err := audio.SaveWAV(path, b); err != nil {
		return nil, err
	}
	return c.ClassifyFile(ctx, path)
}

// ClassifyFile classifies an audio file.
func (c *ScriptClassifier) ClassifyFile(ctx context.Context, audioPath string) ([]Prediction, error) {
	if !filepath.IsAbs(audioPath) {
		absPath, err := filepath.Abs(audioPath)
		if err == nil {
			audioPath = absPath
		}
	}

	cmd := exec.CommandContext(ctx, c.uvPath, "run", c.scriptPath, "--json", audioPath)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := string(exitErr.Stderr)
			if stderr == "" {
				stderr = "unknown error"
			}
			return nil, fmt.Errorf("genre classification failed: %s", stderr)
		}
		return nil, fmt.Errorf("genre classification failed: %w", err)
	}

	return ParseScriptOutput(output)
}

// ParseScriptOutput converts classifier script JSON into sorted predictions.
func ParseScriptOutput(data []byte) ([]Prediction, error) {
	var out ScriptOut
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse genre classification output: %w", err)
	}
	if len(out.Labels) != len(out.Probabilities) {
		return nil, fmt.Errorf("genre classification output has %d labels and %d probabilities", len(out.Labels), len(out.Probabilities))
	}

	preds := make([]Prediction, len(out.Labels))
	for i, l := range out.Labels {
		preds[i] = Prediction{Label: l, Probability: out.Probabilities[i]}
	}
	sortPredictions(preds)
	return preds, nil
}
