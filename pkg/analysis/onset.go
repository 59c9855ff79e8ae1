package analysis

import (
	"math"
)

const (
	powerFloor = 1e-10
	topDB      = 80.0
)

// OnsetStrength computes a spectral-flux onset envelope, one value per STFT frame.
// Power is converted to dB relative to the loudest bin and clipped at topDB below it;
// each frame's value is the mean positive dB increase over the previous frame.
func OnsetStrength(samples []float64, cfg STFTConfig) []float64 {
	return onsetFromSpectrogram(PowerSpectrogram(samples, cfg))
}

func onsetFromSpectrogram(spec [][]float64) []float64 {
	if len(spec) == 0 {
		return nil
	}

	db := powerToDB(spec)
	env := make([]float64, len(db))
	for t := 1; t < len(db); t++ {
		var sum float64
		for j := range db[t] {
			if d := db[t][j] - db[t-1][j]; d > 0 {
				sum += d
			}
		}
		env[t] = sum / float64(len(db[t]))
	}
	return env
}

func powerToDB(spec [][]float64) [][]float64 {
	ref := powerFloor
	for _, row := range spec {
		for _, p := range row {
			ref = math.Max(ref, p)
		}
	}
	refDB := 10 * math.Log10(ref)

	db := make([][]float64, len(spec))
	for t, row := range spec {
		db[t] = make([]float64, len(row))
		for j, p := range row {
			v := 10*math.Log10(math.Max(p, powerFloor)) - refDB
			db[t][j] = math.Max(v, -topDB)
		}
	}
	return db
}
