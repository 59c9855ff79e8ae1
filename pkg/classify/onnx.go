package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/nzoschke/loopprep/pkg/audio"
	ort "github.com/yalue/onnxruntime_go"
)

// ModelSampleRate is the rate the genre models expect.
const ModelSampleRate = 44100

// ortInitOnce ensures ONNX Runtime is initialized only once
var ortInitOnce sync.Once
var ortInitErr error

// ONNXClassifier runs a genre tagger via ONNX Runtime.
// It uses two models: one for mel spectrogram preprocessing and one for
// the tagger itself, plus labels.json naming each tagger output.
type ONNXClassifier struct {
	melSession    *ort.DynamicAdvancedSession
	taggerSession *ort.DynamicAdvancedSession
	labels        []string
	mu            sync.Mutex
}

// NewONNX loads the models from dir, or from the first standard location if dir is empty.
func NewONNX(dir string) (*ONNXClassifier, error) {
	if dir == "" {
		var err error
		if dir, err = findGenreModels(); err != nil {
			return nil, err
		}
	}

	melPath := filepath.Join(dir, "mel.onnx")
	taggerPath := filepath.Join(dir, "tagger.onnx")
	labelsPath := filepath.Join(dir, "labels.json")

	for _, p := range []string{melPath, taggerPath, labelsPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("genre model file not found at %s", p)
		}
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, err
	}

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(onnxLibPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", ortInitErr)
	}

	taggerIn, taggerOut, err := ort.GetInputOutputInfo(taggerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get tagger info: %w", err)
	}
	if len(taggerIn) != 1 || len(taggerOut) != 1 {
		return nil, fmt.Errorf("tagger should have 1 input and 1 output, got %d and %d", len(taggerIn), len(taggerOut))
	}

	melSession, err := ort.NewDynamicAdvancedSession(
		melPath,
		[]string{"audio"},
		[]string{"mel_spectrogram"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mel session: %w", err)
	}

	taggerSession, err := ort.NewDynamicAdvancedSession(
		taggerPath,
		[]string{taggerIn[0].Name},
		[]string{taggerOut[0].Name},
		nil,
	)
	if err != nil {
		melSession.Destroy()
		return nil, fmt.Errorf("failed to create tagger session: %w", err)
	}

	return &ONNXClassifier{
		melSession:    melSession,
		taggerSession: taggerSession,
		labels:        labels,
	}, nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", path)
	}
	return labels, nil
}

// findGenreModels locates the genre ONNX models directory.
func findGenreModels() (string, error) {
	candidates := []string{
		"models/genre",
		"../models/genre",
		"../../models/genre",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "models/genre"),
			filepath.Join(exeDir, "../models/genre"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("genre models not found, expected mel.onnx, tagger.onnx and labels.json in models/genre")
}

// onnxLibPath returns the path to the ONNX Runtime shared library.
func onnxLibPath() string {
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}

	// macOS: brew install onnxruntime
	// Linux: apt install libonnxruntime
	candidates := []string{
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "onnxruntime"
}

// Close releases ONNX Runtime resources.
func (c *ONNXClassifier) Close() error {
	if c.melSession != nil {
		c.melSession.Destroy()
	}
	if c.taggerSession != nil {
		c.taggerSession.Destroy()
	}
	return nil
}

// Labels returns the label vocabulary.
func (c *ONNXClassifier) Labels() []string {
	return c.labels
}

// Classify scores b against every label.
func (c *ONNXClassifier) Classify(ctx context.Context, b audio.Buffer) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.SampleRate != ModelSampleRate {
		var err error
		if b, err = audio.Resample(b, ModelSampleRate); err != nil {
			return nil, err
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("empty audio")
	}

	samples := make([]float32, b.Len())
	for i, s := range b.Samples {
		samples[i] = float32(s)
	}

	// Sessions are not safe for concurrent Run calls.
	c.mu.Lock()
	defer c.mu.Unlock()

	mel, shape, err := c.computeMelSpectrogram(samples)
	if err != nil {
		return nil, fmt.Errorf("mel spectrogram failed: %w", err)
	}

	logits, err := c.runTagger(mel, shape)
	if err != nil {
		return nil, fmt.Errorf("tagging failed: %w", err)
	}
	if len(logits) != len(c.labels) {
		return nil, fmt.Errorf("tagger returned %d scores for %d labels", len(logits), len(c.labels))
	}

	preds := make([]Prediction, len(logits))
	for i, l := range logits {
		preds[i] = Prediction{Label: c.labels[i], Probability: sigmoid(float64(l))}
	}
	sortPredictions(preds)
	return preds, nil
}

// computeMelSpectrogram runs the mel model and returns its flat output and shape.
func (c *ONNXClassifier) computeMelSpectrogram(samples []float32) ([]float32, ort.Shape, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := c.melSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("mel inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, nil, fmt.Errorf("mel output was nil")
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected mel output tensor type")
	}

	// Copy out before the tensor is destroyed.
	data := tensor.GetData()
	mel := make([]float32, len(data))
	copy(mel, data)
	return mel, outputs[0].GetShape().Clone(), nil
}

// runTagger returns one logit per label.
func (c *ONNXClassifier) runTagger(mel []float32, shape ort.Shape) ([]float32, error) {
	inputTensor, err := ort.NewTensor(shape, mel)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := c.taggerSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("tagger inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("tagger output was nil")
	}
	defer outputs[0].Destroy()

	// Shape is (1, labels)
	outShape := outputs[0].GetShape()
	if len(outShape) != 2 {
		return nil, fmt.Errorf("unexpected tagger output shape: %v", outShape)
	}

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected tagger output tensor type")
	}
	data := tensor.GetData()
	logits := make([]float32, len(data))
	copy(logits, data)
	return logits, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
