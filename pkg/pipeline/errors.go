package pipeline

import "errors"

// Error kinds recorded on per-file results. None of them stops a batch.
var (
	ErrDetection    = errors.New("detection failed")
	ErrConversion   = errors.New("tempo conversion failed")
	ErrGateRejected = errors.New("time signature rejected")
	ErrIO           = errors.New("io failure")
)

// Status is the outcome of one file.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusSkippedTimeSig Status = "skipped_time_sig"
	StatusFailed         Status = "failed"
)
