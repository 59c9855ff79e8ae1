package pipeline

import (
	"path/filepath"

	"gonum.org/v1/gonum/stat"
)

// Report file names in the output directory.
const (
	StatsFile   = "beat_alignment_stats.json"
	SummaryFile = "beat_alignment_summary.json"
	SkippedFile = "skipped_files.json"
)

// AlignmentStat is one aligned clip in the stats report.
type AlignmentStat struct {
	File     string    `json:"file"`
	BeatInfo *BeatInfo `json:"beat_info"`
	FinalBPM float64   `json:"final_bpm"`
}

// Skipped is one clip rejected by the time-signature gate.
type Skipped struct {
	File    string `json:"file"`
	TimeSig int    `json:"time_sig"`
	Reason  string `json:"reason"`
}

// Summary aggregates a run. Alignment figures cover successes with beat info.
type Summary struct {
	TotalFiles           int     `json:"total_files"`
	SuccessfullyAligned  int     `json:"successfully_aligned"`
	AlignmentSuccessRate float64 `json:"alignment_success_rate"`
	AverageConfidence    float64 `json:"average_confidence"`
	TargetBeats          int     `json:"target_beats"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`

	Processed      int `json:"processed"`
	SkippedTimeSig int `json:"skipped_time_sig"`
	Failed         int `json:"failed"`
}

// Report is everything a run writes besides the clips.
type Report struct {
	Results []Result
	Stats   []AlignmentStat
	Skipped []Skipped
	Summary Summary
}

// NewReport aggregates results in order.
func NewReport(results []Result, targetBeats int, threshold float64) *Report {
	r := &Report{
		Results: results,
		Stats:   []AlignmentStat{},
		Skipped: []Skipped{},
		Summary: Summary{TargetBeats: targetBeats, ConfidenceThreshold: threshold},
	}

	var confidences []float64
	for _, res := range results {
		switch res.Status {
		case StatusSuccess:
			r.Summary.Processed++
			if res.BeatInfo == nil {
				continue
			}
			r.Stats = append(r.Stats, AlignmentStat{File: res.File, BeatInfo: res.BeatInfo, FinalBPM: res.FinalBPM})
			confidences = append(confidences, res.BeatInfo.Confidence)
			if res.BeatInfo.Aligned {
				r.Summary.SuccessfullyAligned++
			}
		case StatusSkippedTimeSig:
			r.Summary.SkippedTimeSig++
			r.Skipped = append(r.Skipped, Skipped{File: res.File, TimeSig: res.TimeSig, Reason: "time_signature_mismatch"})
		default:
			r.Summary.Failed++
		}
	}

	r.Summary.TotalFiles = len(r.Stats)
	if len(confidences) > 0 {
		r.Summary.AlignmentSuccessRate = float64(r.Summary.SuccessfullyAligned) / float64(r.Summary.TotalFiles)
		r.Summary.AverageConfidence = stat.Mean(confidences, nil)
	}
	return r
}

// Write saves the stats, summary and, if any files were skipped, the skipped list.
func (r *Report) Write(dir string) error {
	if err := writeJSON(filepath.Join(dir, StatsFile), r.Stats); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, SummaryFile), r.Summary); err != nil {
		return err
	}
	if len(r.Skipped) > 0 {
		if err := writeJSON(filepath.Join(dir, SkippedFile), r.Skipped); err != nil {
			return err
		}
	}
	return nil
}
