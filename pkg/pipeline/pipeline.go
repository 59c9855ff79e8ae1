// Package pipeline drives a directory of clips through tempo normalization,
// beat alignment and exact-length windowing.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/mdobak/go-xerrors"
	log "github.com/schollz/logger"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/nzoschke/loopprep/pkg/align"
	"github.com/nzoschke/loopprep/pkg/analysis"
	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/nzoschke/loopprep/pkg/config"
	"github.com/nzoschke/loopprep/pkg/store"
	"github.com/nzoschke/loopprep/pkg/tempo"
)

// ProcessedDir is the subdirectory of the output dir holding clips and records.
const ProcessedDir = "processed"

// bpmTolerance is how far the source tempo may be from the target before converting.
const bpmTolerance = 1.0

// Detector is the analysis a file goes through. *analysis.Analyzer implements it.
type Detector interface {
	DetectBPM(b audio.Buffer) (float64, error)
	EstimateTimeSignature(b audio.Buffer) int
	Track(b audio.Buffer, timeSig int) analysis.BeatTrack
}

// Converter changes a clip's tempo. *tempo.Converter implements it.
type Converter interface {
	Convert(ctx context.Context, b audio.Buffer, sourceBPM, targetBPM float64) tempo.Conversion
}

// BeatInfo describes how a clip was aligned.
type BeatInfo struct {
	DetectedBPM      float64 `json:"detected_bpm"`
	Confidence       float64 `json:"confidence"`
	NumBeats         int     `json:"num_beats"`
	NumDownbeats     int     `json:"num_downbeats"`
	Aligned          bool    `json:"aligned"`
	StartSample      int     `json:"start_sample"`
	TargetSamples    int     `json:"target_samples"`
	ActualSamples    int     `json:"actual_samples"`
	TimeSignature    int     `json:"time_signature"`
	BPMSource        string  `json:"bpm_source"`
	ConversionMethod string  `json:"conversion_method,omitempty"`
}

// Result is the outcome for one input file.
type Result struct {
	File     string    `json:"file"`
	Output   string    `json:"output,omitempty"`
	FinalBPM float64   `json:"final_bpm"`
	BeatInfo *BeatInfo `json:"beat_info,omitempty"`
	Status   Status    `json:"status"`
	TimeSig  int       `json:"time_sig,omitempty"`
	Error    string    `json:"error,omitempty"`
	Resumed  bool      `json:"-"`
	Err      error     `json:"-"`
}

// Processor runs the per-file pipeline over an input directory.
type Processor struct {
	cfg       config.Config
	detector  Detector
	converter Converter
	windower  align.Windower
	metadata  Metadata
	store     *store.Store

	// Output receives progress text and the progress bar.
	Output io.Writer
}

// New creates a Processor. metadata and st may be nil.
func New(cfg config.Config, detector Detector, converter Converter, metadata Metadata, st *store.Store) *Processor {
	return &Processor{
		cfg:       cfg,
		detector:  detector,
		converter: converter,
		windower: align.Windower{
			TargetBeats:         cfg.TargetBeats,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			ReferenceBPM:        cfg.TargetBPM,
		},
		metadata: metadata,
		store:    st,
		Output:   os.Stdout,
	}
}

// TargetSamples is the length of every processed clip.
func (p *Processor) TargetSamples() int {
	return p.windower.TargetSamples(p.cfg.SampleRate)
}

func (p *Processor) processedDir() string {
	return filepath.Join(p.cfg.OutputDir, ProcessedDir)
}

// Plan lists the input files in processing order, applying the BPM filter,
// shuffle and file limit. The filtered and shuffled lists are saved to the output dir.
func (p *Processor) Plan(ctx context.Context) ([]string, error) {
	files, err := ListAudio(p.cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrIO, err)
	}

	if p.cfg.FilterByBPM {
		fmt.Fprintf(p.Output, "Filtering %d files by BPM range %g-%g...\n", len(files), p.cfg.MinBPM, p.cfg.MaxBPM)
		files = p.filterByBPM(ctx, files)
		fmt.Fprintf(p.Output, "Found %d files in BPM range\n", len(files))

		name := fmt.Sprintf("files_bpm_%g_%g.json", p.cfg.MinBPM, p.cfg.MaxBPM)
		if err := writeJSON(filepath.Join(p.cfg.OutputDir, name), files); err != nil {
			return nil, err
		}
	}

	if p.cfg.Shuffle {
		files = Shuffle(files, p.cfg.Seed)
		if err := writeJSON(filepath.Join(p.cfg.OutputDir, "shuffled_files_list.json"), files); err != nil {
			return nil, err
		}
	}

	if p.cfg.NumFiles > 0 && len(files) > p.cfg.NumFiles {
		files = files[:p.cfg.NumFiles]
	}
	return files, nil
}

// filterByBPM keeps files whose resolved tempo is within [MinBPM, MaxBPM],
// stopping once NumFiles matches are found.
func (p *Processor) filterByBPM(ctx context.Context, files []string) []string {
	var out []string
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}

		path := filepath.Join(p.cfg.InputDir, name)
		bpm, ok := p.metadata.BPM(path)
		if !ok {
			b, err := audio.Load(path)
			if err != nil {
				log.Debugf("%s: %v", name, err)
				continue
			}
			bpm, _, _ = p.detectBPM(b)
		}

		if bpm >= p.cfg.MinBPM && bpm <= p.cfg.MaxBPM {
			log.Debugf("found file with BPM %.1f: %s", bpm, name)
			out = append(out, name)
			if p.cfg.NumFiles > 0 && len(out) >= p.cfg.NumFiles {
				break
			}
		}
	}
	return out
}

// Run processes files, writes the run reports and returns them.
// Per-file failures are recorded in the results, never returned.
func (p *Processor) Run(ctx context.Context, files []string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.processedDir(), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create processed dir: %v", ErrIO, err)
	}

	workers := max(p.cfg.Workers, 1)
	fmt.Fprintf(p.Output, "Processing %d files with %d worker(s)...\n", len(files), workers)

	progress := mpb.New(mpb.WithOutput(p.Output), mpb.WithWidth(64))
	bar := progress.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Processing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	results := make([]Result, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.Process(ctx, files[i])
				bar.Increment()
			}
		}()
	}

dispatch:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	// ends the bar when the batch was cancelled or empty
	bar.Abort(false)
	progress.Wait()

	// files never started or cut off by cancellation stay out of the reports
	done := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Status != "" {
			done = append(done, r)
		}
	}

	report := NewReport(done, p.cfg.TargetBeats, p.cfg.ConfidenceThreshold)
	if err := report.Write(p.cfg.OutputDir); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		fmt.Fprintf(p.Output, "Interrupted after %d of %d files\n", len(done), len(files))
		return report, err
	}

	s := report.Summary
	fmt.Fprintf(p.Output, "Processed %d, skipped %d (time signature), failed %d\n", s.Processed, s.SkippedTimeSig, s.Failed)
	fmt.Fprintf(p.Output, "Beat alignment summary: %d/%d files successfully aligned\n", s.SuccessfullyAligned, s.TotalFiles)
	fmt.Fprintf(p.Output, "Average confidence: %.3f\n", s.AverageConfidence)
	return report, nil
}

// Process runs one input file through the pipeline.
// A file cut off by cancellation comes back with an empty Status and is not
// recorded, so the next run processes it again.
func (p *Processor) Process(ctx context.Context, name string) Result {
	if err := ctx.Err(); err != nil {
		return Result{File: name, Err: err}
	}
	if r, ok := p.resumed(name); ok {
		log.Debugf("%s: already processed", name)
		return r
	}

	r := p.process(ctx, name)
	if err := ctx.Err(); err != nil && r.Status != StatusSuccess {
		log.Debugf("%s: interrupted", name)
		return Result{File: name, Err: err}
	}
	if r.Err != nil {
		r.Error = r.Err.Error()
		switch r.Status {
		case StatusFailed:
			err := xerrors.New(r.Err)
			log.Warnf("%s: %v", name, r.Err)
			log.Debugf("%+v", err)
		case StatusSkippedTimeSig:
			log.Infof("skipped %s: %d beats per bar", name, r.TimeSig)
		}
	}

	p.record(r)
	return r
}

func (p *Processor) process(ctx context.Context, name string) Result {
	r := Result{File: name}
	path := filepath.Join(p.cfg.InputDir, name)

	if _, err := os.Stat(path); err != nil {
		return failed(r, fmt.Errorf("%w: %v", ErrIO, err))
	}

	b, err := audio.Load(path)
	if err != nil {
		return failed(r, fmt.Errorf("%w: %v", ErrIO, err))
	}
	b, err = audio.Resample(b, p.cfg.SampleRate)
	if err != nil {
		return failed(r, fmt.Errorf("%w: %v", ErrIO, err))
	}

	timeSig := 0
	if p.cfg.AlignBeats {
		timeSig = p.detector.EstimateTimeSignature(b)
		if timeSig != p.cfg.RequiredTimeSig {
			r.Status = StatusSkippedTimeSig
			r.TimeSig = timeSig
			r.Err = fmt.Errorf("%w: estimated %d, required %d", ErrGateRejected, timeSig, p.cfg.RequiredTimeSig)
			return r
		}
	}

	bpm, source := p.resolveBPM(name, path, b)
	r.FinalBPM = bpm

	var method string
	if !p.cfg.PreserveBPM && math.Abs(bpm-p.cfg.TargetBPM) > bpmTolerance {
		conv := p.converter.Convert(ctx, b, bpm, p.cfg.TargetBPM)
		if conv.Converted {
			b = conv.Buffer
			method = conv.Method
			r.FinalBPM = p.cfg.TargetBPM
			log.Debugf("%s: %.1f -> %.1f BPM via %s (measured %.1f)", name, bpm, p.cfg.TargetBPM, conv.Method, conv.DetectedBPM)
		} else {
			log.Warnf("%s: %v, keeping %.1f BPM", name, ErrConversion, bpm)
		}

		// strategies write at the target rate, keep the invariant if one did not
		b, err = audio.Resample(b, p.cfg.SampleRate)
		if err != nil {
			return failed(r, fmt.Errorf("%w: %v", ErrIO, err))
		}
	}

	var out audio.Buffer
	if p.cfg.AlignBeats {
		track := p.detector.Track(b, timeSig)
		res := p.windower.Window(b, track)
		out = res.Buffer
		r.BeatInfo = &BeatInfo{
			DetectedBPM:      track.BPM,
			Confidence:       res.Confidence,
			NumBeats:         len(track.Times),
			NumDownbeats:     len(track.Downbeats),
			Aligned:          res.Aligned,
			StartSample:      res.StartSample,
			TargetSamples:    res.TargetSamples,
			ActualSamples:    out.Len(),
			TimeSignature:    timeSig,
			BPMSource:        source,
			ConversionMethod: method,
		}
	} else {
		out = align.EnsureExactLength(b, p.TargetSamples())
	}

	if ctx.Err() != nil {
		return failed(r, ctx.Err())
	}

	outPath := filepath.Join(p.processedDir(), OutputName(name))
	if err := writeClip(outPath, out); err != nil {
		return failed(r, fmt.Errorf("%w: %v", ErrIO, err))
	}
	r.Output = outPath
	r.Status = StatusSuccess

	if err := writeJSON(sidecarPath(outPath), r); err != nil {
		log.Warnf("%s: %v", name, err)
	}
	return r
}

// resolveBPM prefers annotated metadata, then detection, then the default.
func (p *Processor) resolveBPM(name, path string, b audio.Buffer) (float64, string) {
	if bpm, ok := p.metadata.BPM(path); ok {
		return bpm, BPMFromMetadata
	}

	bpm, source, err := p.detectBPM(b)
	if err != nil {
		log.Debugf("%s: %v, using %.0f BPM", name, err, bpm)
	}
	return bpm, source
}

func (p *Processor) detectBPM(b audio.Buffer) (float64, string, error) {
	bpm, err := p.detector.DetectBPM(b)
	if err != nil || bpm < analysis.MinBPM || bpm > analysis.MaxBPM {
		if err == nil {
			err = fmt.Errorf("%.1f BPM out of range", bpm)
		}
		return analysis.DefaultBPM, BPMDefault, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	return bpm, BPMDetected, nil
}

// resumed returns the ledger result for a file that already finished successfully.
func (p *Processor) resumed(name string) (Result, bool) {
	if p.store == nil || !p.cfg.Resume {
		return Result{}, false
	}

	rec, err := p.store.Get(name)
	if err != nil || Status(rec.Status) != StatusSuccess {
		return Result{}, false
	}
	if _, err := os.Stat(rec.Output); err != nil {
		return Result{}, false
	}

	r := Result{File: name, Output: rec.Output, FinalBPM: rec.FinalBPM, Status: StatusSuccess, Resumed: true}
	if len(rec.BeatInfo) > 0 {
		var info BeatInfo
		if err := json.Unmarshal(rec.BeatInfo, &info); err == nil {
			r.BeatInfo = &info
		}
	}
	return r, true
}

func (p *Processor) record(r Result) {
	if p.store == nil {
		return
	}

	rec := store.Record{File: r.File, Output: r.Output, Status: string(r.Status), FinalBPM: r.FinalBPM, Error: r.Error}
	if r.BeatInfo != nil {
		data, err := json.Marshal(r.BeatInfo)
		if err == nil {
			rec.BeatInfo = data
		}
	}
	if err := p.store.Put(rec); err != nil {
		log.Warnf("%s: %v", r.File, err)
	}
}

func failed(r Result, err error) Result {
	r.Status = StatusFailed
	r.Err = err
	return r
}

// writeClip writes b next to path and renames it into place, so a partial
// file never has the final name.
func writeClip(path string, b audio.Buffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := audio.SaveWAV(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(tmp), err)
	}
	return nil
}

func sidecarPath(clip string) string {
	return clip[:len(clip)-len(filepath.Ext(clip))] + ".json"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	return nil
}
