// CLI for preparing fixed-length, beat-aligned loop clips.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nzoschke/loopprep/pkg/analysis"
	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/nzoschke/loopprep/pkg/classify"
	"github.com/nzoschke/loopprep/pkg/config"
	"github.com/nzoschke/loopprep/pkg/dataset"
	"github.com/nzoschke/loopprep/pkg/pipeline"
	"github.com/nzoschke/loopprep/pkg/server"
	"github.com/nzoschke/loopprep/pkg/store"
	"github.com/nzoschke/loopprep/pkg/tempo"
	log "github.com/schollz/logger"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Loop clip tempo conversion, beat alignment and dataset tools",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.LogLevel = "debug"
		}
		log.SetLevel(cfg.LogLevel)
	},
	SilenceUsage: true,
}

var processCmd = &cobra.Command{
	Use:   "process <input-dir>",
	Short: "Convert, align and normalize every audio file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.InputDir = args[0]
		return runProcess(cmd.Context())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [record-id] [dir]",
	Short: "Download and extract a Zenodo dataset record",
	Long: `Download every file of a Zenodo record (default: the Freesound Loop Dataset)
into dir and extract each zip into a folder named after it.

Zip archives are deleted once extracted to save disk space. Pass
--keep-archives to keep them next to the extracted folders.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, dir := dataset.DefaultRecord, "."
		if len(args) > 0 {
			id = args[0]
		}
		if len(args) > 1 {
			dir = args[1]
		}
		keep, _ := cmd.Flags().GetBool("keep-archives")
		return runFetch(cmd.Context(), id, dir, keep)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <processed-dir> <out-dir>",
	Short: "Tag clips with styles and copy them into parent-genre folders",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		models, _ := cmd.Flags().GetString("models")
		script, _ := cmd.Flags().GetString("script")
		return runClassify(cmd.Context(), args[0], args[1], backend, models, script)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web server to browse processed clips",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		addr, _ := cmd.Flags().GetString("addr")
		return runServe(dir, addr)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	f := processCmd.Flags()
	f.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Output directory")
	f.StringVar(&cfg.MetadataPath, "metadata", cfg.MetadataPath, "Metadata JSON with per-file BPM annotations")
	f.IntVarP(&cfg.NumFiles, "num-files", "n", cfg.NumFiles, "Number of files to process (0 for all)")
	f.BoolVar(&cfg.PreserveBPM, "preserve-bpm", cfg.PreserveBPM, "Keep each clip's original tempo")
	f.BoolVar(&cfg.FilterByBPM, "filter-by-bpm", cfg.FilterByBPM, "Only process files within the BPM range")
	f.Float64Var(&cfg.MinBPM, "min-bpm", cfg.MinBPM, "Minimum BPM for filtering")
	f.Float64Var(&cfg.MaxBPM, "max-bpm", cfg.MaxBPM, "Maximum BPM for filtering")
	f.BoolVar(&cfg.Shuffle, "shuffle", cfg.Shuffle, "Shuffle files before processing")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Shuffle seed")
	f.BoolVar(&cfg.AlignBeats, "align-beats", cfg.AlignBeats, "Align clips to the first usable downbeat")
	f.IntVar(&cfg.TargetBeats, "target-beats", cfg.TargetBeats, "Beats per output clip")
	f.Float64Var(&cfg.ConfidenceThreshold, "confidence-threshold", cfg.ConfidenceThreshold, "Minimum beat confidence for alignment")
	f.Float64Var(&cfg.TargetBPM, "target-bpm", cfg.TargetBPM, "Tempo every clip is converted to")
	f.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Output sample rate")
	f.IntVar(&cfg.RequiredTimeSig, "time-sig", cfg.RequiredTimeSig, "Beats per bar a clip must have")
	f.StringVar(&cfg.Downbeats, "downbeats", cfg.Downbeats, "Downbeat estimator: chroma or stride")
	f.StringVar(&cfg.RateMethod, "rate-method", cfg.RateMethod, "Rate-resample implementation: ffmpeg or native")
	f.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg binary")
	f.StringVar(&cfg.ScratchDir, "scratch-dir", cfg.ScratchDir, "Directory for temporary conversion files")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Files processed in parallel")
	f.BoolVar(&cfg.Resume, "resume", cfg.Resume, "Skip files already recorded as processed")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Ledger database (default <output>/records.db)")

	fetchCmd.Flags().Bool("keep-archives", false, "Keep zip files after extraction (they are deleted by default)")

	classifyCmd.Flags().String("backend", "onnx", "Classifier backend: onnx or script")
	classifyCmd.Flags().String("models", "", "Directory with mel.onnx, tagger.onnx and labels.json")
	classifyCmd.Flags().String("script", "", "Classifier script run with uv, required by the script backend")

	serveCmd.Flags().String("dir", cfg.OutputDir, "Output directory to serve")
	serveCmd.Flags().String("addr", ":8080", "Listen address")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runProcess(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	audio.FFmpegPath = cfg.FFmpegPath

	var metadata pipeline.Metadata
	if cfg.MetadataPath != "" {
		md, err := pipeline.LoadMetadata(cfg.MetadataPath)
		if err != nil {
			return err
		}
		metadata = md
		log.Infof("loaded metadata for %d files", len(md))
	}

	st, err := store.Open(cfg.Database())
	if err != nil {
		return err
	}
	defer st.Close()

	analyzer := analysis.New()
	analyzer.Downbeats = analysis.DownbeatMethod(cfg.Downbeats)
	analyzer.RequiredTimeSig = cfg.RequiredTimeSig

	converter := tempo.NewConverter(analyzer,
		tempo.NewAtempo(cfg.FFmpegPath, cfg.ScratchDir, cfg.SampleRate),
		rateStretcher(),
	)

	p := pipeline.New(cfg, analyzer, converter, metadata, st)
	files, err := p.Plan(ctx)
	if err != nil {
		return err
	}

	if _, err := p.Run(ctx, files); err != nil {
		return err
	}
	fmt.Printf("Processed clips written to %s\n", filepath.Join(cfg.OutputDir, pipeline.ProcessedDir))
	return nil
}

func rateStretcher() tempo.Stretcher {
	if cfg.RateMethod == config.RateNative {
		return tempo.NativeRateStretcher{SampleRate: cfg.SampleRate}
	}
	return tempo.NewRate(cfg.FFmpegPath, cfg.ScratchDir, cfg.SampleRate)
}

func runFetch(ctx context.Context, id, dir string, keep bool) error {
	c := dataset.NewClient()
	c.KeepArchives = keep

	paths, err := c.Fetch(ctx, id, dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Printf("Saved %s\n", p)
	}
	return nil
}

func runClassify(ctx context.Context, src, out, backend, models, script string) error {
	var c classify.Classifier
	switch backend {
	case "onnx":
		oc, err := classify.NewONNX(models)
		if err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
		defer oc.Close()
		c = oc
	case "script":
		sc, err := classify.NewScript(script)
		if err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
		c = sc
	default:
		return fmt.Errorf("unknown classifier backend %q", backend)
	}

	org, err := classify.NewOrganizer(c).Run(ctx, src, out)
	if err != nil {
		return err
	}

	total := len(org.Labels)
	fmt.Println("Classification summary")
	for _, genre := range append(append([]string{}, classify.ParentGenres...), classify.OtherGenre) {
		n := org.Distribution[genre]
		pct := 0.0
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		fmt.Printf("%-24s: %4d files (%5.1f%%)\n", genre, n, pct)
	}
	fmt.Printf("Total files classified: %d (failed %d)\n", total, len(org.Failed))
	fmt.Printf("Files organized in: %s\n", out)
	return nil
}

func runServe(dir, addr string) error {
	var st *store.Store
	db := filepath.Join(dir, "records.db")
	if cfg.DBPath != "" {
		db = cfg.DBPath
	}
	if _, err := os.Stat(db); err == nil {
		if st, err = store.Open(db); err != nil {
			return err
		}
		defer st.Close()
	}

	log.Infof("serving %s on %s", dir, addr)
	return server.New(dir, st).Start(addr)
}
