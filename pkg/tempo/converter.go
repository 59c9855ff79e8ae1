// Package tempo converts clips to a target tempo with pluggable stretch strategies.
package tempo

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/schollz/logger"

	"github.com/nzoschke/loopprep/pkg/audio"
)

// ErrInvalidRatio is returned for non-positive or non-finite speed ratios.
var ErrInvalidRatio = errors.New("invalid speed ratio")

// Stretcher changes the speed of a buffer by ratio (2 = twice as fast).
// The returned buffer is at the stretcher's output rate.
type Stretcher interface {
	Name() string
	Stretch(ctx context.Context, b audio.Buffer, ratio float64) (audio.Buffer, error)
}

// BPMDetector measures the tempo of a candidate conversion.
type BPMDetector interface {
	DetectBPM(b audio.Buffer) (float64, error)
}

// Conversion is the outcome of Convert.
type Conversion struct {
	Buffer      audio.Buffer
	Method      string  // winning strategy, empty if not converted
	DetectedBPM float64 // tempo measured on the winning candidate
	Converted   bool
}

// Converter runs every strategy and keeps the candidate whose measured tempo
// lands closest to the target.
type Converter struct {
	Strategies []Stretcher
	Detector   BPMDetector
}

// NewConverter returns a Converter over strategies, tried in order.
func NewConverter(detector BPMDetector, strategies ...Stretcher) *Converter {
	return &Converter{Strategies: strategies, Detector: detector}
}

// Ratio is the speed factor that takes sourceBPM to targetBPM.
func Ratio(sourceBPM, targetBPM float64) (float64, error) {
	if sourceBPM <= 0 || targetBPM <= 0 {
		return 0, fmt.Errorf("%w: %.2f -> %.2f BPM", ErrInvalidRatio, sourceBPM, targetBPM)
	}
	r := targetBPM / sourceBPM
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0, fmt.Errorf("%w: %.2f -> %.2f BPM", ErrInvalidRatio, sourceBPM, targetBPM)
	}
	return r, nil
}

// Convert speeds b from sourceBPM to targetBPM. It never fails: when no
// strategy produces a candidate the original buffer comes back with Converted false.
func (c *Converter) Convert(ctx context.Context, b audio.Buffer, sourceBPM, targetBPM float64) Conversion {
	orig := Conversion{Buffer: b}

	ratio, err := Ratio(sourceBPM, targetBPM)
	if err != nil {
		log.Warnf("tempo conversion skipped: %v", err)
		return orig
	}

	var best *Conversion
	bestDiff := math.Inf(1)
	for _, s := range c.Strategies {
		if ctx.Err() != nil {
			break
		}

		out, err := s.Stretch(ctx, b, ratio)
		if err != nil {
			log.Warnf("%s conversion failed: %v", s.Name(), err)
			continue
		}
		if out.Len() == 0 {
			log.Warnf("%s conversion produced no audio", s.Name())
			continue
		}

		detected := targetBPM
		if c.Detector != nil {
			bpm, err := c.Detector.DetectBPM(out)
			if err != nil {
				log.Debugf("%s candidate: %v", s.Name(), err)
			}
			detected = bpm
		}
		log.Debugf("%s candidate: %.2f BPM (target %.2f)", s.Name(), detected, targetBPM)

		// strict less keeps the earlier strategy on ties
		if diff := math.Abs(detected - targetBPM); diff < bestDiff {
			bestDiff = diff
			best = &Conversion{Buffer: out, Method: s.Name(), DetectedBPM: detected, Converted: true}
		}
	}

	if best == nil {
		log.Warnf("all tempo conversions failed, keeping original audio")
		return orig
	}
	return *best
}
