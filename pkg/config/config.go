// Package config holds run options with their defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Rate-resample implementations.
const (
	RateFFmpeg = "ffmpeg"
	RateNative = "native"
)

// Config holds all options for a processing run.
type Config struct {
	InputDir     string
	OutputDir    string
	MetadataPath string
	NumFiles     int // 0 means all

	PreserveBPM bool
	FilterByBPM bool
	MinBPM      float64
	MaxBPM      float64

	Shuffle bool
	Seed    int64

	AlignBeats          bool
	TargetBeats         int
	ConfidenceThreshold float64
	TargetBPM           float64
	SampleRate          int
	RequiredTimeSig     int
	Downbeats           string

	RateMethod string
	FFmpegPath string
	ScratchDir string

	Workers int
	Resume  bool
	DBPath  string

	LogLevel string
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		OutputDir:           "MEL_SPEC_output",
		MinBPM:              120,
		MaxBPM:              130,
		Seed:                42,
		AlignBeats:          true,
		TargetBeats:         32,
		ConfidenceThreshold: 0.3,
		TargetBPM:           120,
		SampleRate:          44100,
		RequiredTimeSig:     4,
		Downbeats:           "chroma",
		RateMethod:          RateFFmpeg,
		FFmpegPath:          "ffmpeg",
		Workers:             1,
		LogLevel:            "info",
	}
}

// Load reads .env if present, then applies LOOPPREP_* environment overrides to the defaults.
func Load() Config {
	_ = godotenv.Load()

	d := Default()
	return Config{
		InputDir:     envStr("LOOPPREP_INPUT_DIR", d.InputDir),
		OutputDir:    envStr("LOOPPREP_OUTPUT_DIR", d.OutputDir),
		MetadataPath: envStr("LOOPPREP_METADATA", d.MetadataPath),
		NumFiles:     envInt("LOOPPREP_NUM_FILES", d.NumFiles),

		PreserveBPM: envBool("LOOPPREP_PRESERVE_BPM", d.PreserveBPM),
		FilterByBPM: envBool("LOOPPREP_FILTER_BY_BPM", d.FilterByBPM),
		MinBPM:      envFloat("LOOPPREP_MIN_BPM", d.MinBPM),
		MaxBPM:      envFloat("LOOPPREP_MAX_BPM", d.MaxBPM),

		Shuffle: envBool("LOOPPREP_SHUFFLE", d.Shuffle),
		Seed:    int64(envInt("LOOPPREP_SEED", int(d.Seed))),

		AlignBeats:          envBool("LOOPPREP_ALIGN_BEATS", d.AlignBeats),
		TargetBeats:         envInt("LOOPPREP_TARGET_BEATS", d.TargetBeats),
		ConfidenceThreshold: envFloat("LOOPPREP_CONFIDENCE_THRESHOLD", d.ConfidenceThreshold),
		TargetBPM:           envFloat("LOOPPREP_TARGET_BPM", d.TargetBPM),
		SampleRate:          envInt("LOOPPREP_SAMPLE_RATE", d.SampleRate),
		RequiredTimeSig:     envInt("LOOPPREP_REQUIRED_TIME_SIG", d.RequiredTimeSig),
		Downbeats:           envStr("LOOPPREP_DOWNBEATS", d.Downbeats),

		RateMethod: envStr("LOOPPREP_RATE_METHOD", d.RateMethod),
		FFmpegPath: envStr("LOOPPREP_FFMPEG", d.FFmpegPath),
		ScratchDir: envStr("LOOPPREP_SCRATCH_DIR", d.ScratchDir),

		Workers: envInt("LOOPPREP_WORKERS", d.Workers),
		Resume:  envBool("LOOPPREP_RESUME", d.Resume),
		DBPath:  envStr("LOOPPREP_DB", d.DBPath),

		LogLevel: envStr("LOG_LEVEL", d.LogLevel),
	}
}

// Validate reports every invalid option, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.TargetBeats <= 0 {
		errs = append(errs, fmt.Errorf("target beats must be positive, got %d", c.TargetBeats))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be in [0, 1], got %g", c.ConfidenceThreshold))
	}
	if c.MinBPM > c.MaxBPM {
		errs = append(errs, fmt.Errorf("min bpm %g is above max bpm %g", c.MinBPM, c.MaxBPM))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.TargetBPM <= 0 {
		errs = append(errs, fmt.Errorf("target bpm must be positive, got %g", c.TargetBPM))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.NumFiles < 0 {
		errs = append(errs, fmt.Errorf("num files must not be negative, got %d", c.NumFiles))
	}
	switch c.RateMethod {
	case RateFFmpeg, RateNative:
	default:
		errs = append(errs, fmt.Errorf("unknown rate method %q", c.RateMethod))
	}
	switch c.Downbeats {
	case "chroma", "stride":
	default:
		errs = append(errs, fmt.Errorf("unknown downbeat method %q", c.Downbeats))
	}
	return errors.Join(errs...)
}

// Database returns the ledger path, defaulting to records.db in the output directory.
func (c Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.OutputDir, "records.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
