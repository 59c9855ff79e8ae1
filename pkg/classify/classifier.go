// Package classify tags processed clips with style labels and sorts them into parent-genre folders.
package classify

import (
	"context"
	"sort"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// Prediction is one style label and its probability.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier scores a clip against a fixed label vocabulary.
// Predictions are returned in descending order of probability.
type Classifier interface {
	Classify(ctx context.Context, b audio.Buffer) ([]Prediction, error)
}

func sortPredictions(preds []Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
}

// Top returns the first n predictions.
func Top(preds []Prediction, n int) []Prediction {
	if n > len(preds) {
		n = len(preds)
	}
	if n < 0 {
		n = 0
	}
	return preds[:n]
}
