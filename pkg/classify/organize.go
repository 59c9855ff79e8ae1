package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/nzoschke/loopprep/pkg/pipeline"
	log "github.com/schollz/logger"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gonum.org/v1/gonum/stat"
)

// OtherGenre holds clips that score zero for every parent genre.
const OtherGenre = "Other"

// Output file names in the organised directory.
const (
	LabelsFile       = "genre_labels.json"
	DistributionFile = "genre_distribution.json"
)

// DefaultTopN is how many labels are kept per clip in the labels file.
const DefaultTopN = 5

// ParentGenres are the top-level genres clips are sorted into, in tie-break order.
var ParentGenres = []string{
	"Electronic",
	"Rock",
	"Latin",
	"Folk, World, & Country",
	"Hip Hop",
	"Jazz",
	"Pop",
	"Funk / Soul",
	"Classical",
	"Non-Music",
	"Blues",
	"Reggae",
	"Stage & Screen",
	"Brass & Military",
	"Children's Music",
}

// ParentScores is the mean probability of each parent genre's "<Parent>---" styles.
// A parent with no styles in preds scores 0.
func ParentScores(preds []Prediction) map[string]float64 {
	scores := make(map[string]float64, len(ParentGenres))
	for _, genre := range ParentGenres {
		prefix := genre + "---"
		var probs []float64
		for _, p := range preds {
			if strings.HasPrefix(p.Label, prefix) {
				probs = append(probs, p.Probability)
			}
		}
		if len(probs) > 0 {
			scores[genre] = stat.Mean(probs, nil)
		} else {
			scores[genre] = 0
		}
	}
	return scores
}

// BestGenre returns the highest-scoring parent genre, the earliest on ties,
// or OtherGenre when no parent scores above 0.
func BestGenre(scores map[string]float64) string {
	best, bestScore := OtherGenre, 0.0
	for _, genre := range ParentGenres {
		if s := scores[genre]; s > bestScore {
			best, bestScore = genre, s
		}
	}
	return best
}

// FolderName is the directory name for a genre.
func FolderName(genre string) string {
	return strings.ReplaceAll(genre, "/", "_")
}

// Label is one clip's entry in the labels file.
type Label struct {
	File             string             `json:"file"`
	Genre            string             `json:"genre"`
	Labels           []string           `json:"labels"`
	TopProbabilities []float64          `json:"top_probabilities"`
	TopProbsDict     map[string]float64 `json:"top_probs_dict"`
}

// Organization is the outcome of sorting a directory of clips.
type Organization struct {
	Labels       []Label
	Distribution map[string]int
	Failed       []string
}

// Organizer classifies clips and copies them into genre folders.
type Organizer struct {
	Classifier Classifier
	SampleRate int
	TopN       int

	// Output receives the progress bar.
	Output io.Writer
}

// NewOrganizer creates an organizer with the default sample rate and label count.
func NewOrganizer(c Classifier) *Organizer {
	return &Organizer{
		Classifier: c,
		SampleRate: ModelSampleRate,
		TopN:       DefaultTopN,
		Output:     os.Stdout,
	}
}

// Run classifies every audio file in srcDir and copies it into outDir/<genre>.
// Genre folders left empty are removed.
func (o *Organizer) Run(ctx context.Context, srcDir, outDir string) (*Organization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := pipeline.ListAudio(srcDir)
	if err != nil {
		return nil, err
	}

	genres := append(append([]string{}, ParentGenres...), OtherGenre)
	for _, genre := range genres {
		if err := os.MkdirAll(filepath.Join(outDir, FolderName(genre)), 0o755); err != nil {
			return nil, fmt.Errorf("create genre folder: %w", err)
		}
	}

	org := &Organization{
		Labels:       []Label{},
		Distribution: make(map[string]int, len(genres)),
	}
	for _, genre := range genres {
		org.Distribution[genre] = 0
	}

	progress := mpb.New(mpb.WithOutput(o.Output), mpb.WithWidth(64))
	bar := progress.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Classifying: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	for _, name := range files {
		if ctx.Err() != nil {
			break
		}

		label, err := o.classify(ctx, filepath.Join(srcDir, name))
		if err != nil {
			log.Warnf("%s: %v", name, err)
			org.Failed = append(org.Failed, name)
			bar.Increment()
			continue
		}
		label.File = name

		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(outDir, FolderName(label.Genre), name)); err != nil {
			bar.Abort(false)
			progress.Wait()
			return nil, err
		}
		log.Debugf("%s -> %s", name, label.Genre)

		org.Labels = append(org.Labels, label)
		org.Distribution[label.Genre]++
		bar.Increment()
	}
	bar.Abort(false)
	progress.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := removeEmptyDirs(outDir, genres); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(outDir, LabelsFile), org.Labels); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(outDir, DistributionFile), org.Distribution); err != nil {
		return nil, err
	}
	return org, nil
}

func (o *Organizer) classify(ctx context.Context, path string) (Label, error) {
	b, err := audio.LoadAt(path, o.SampleRate)
	if err != nil {
		return Label{}, err
	}

	preds, err := o.Classifier.Classify(ctx, b)
	if err != nil {
		return Label{}, err
	}

	top := Top(preds, o.TopN)
	label := Label{
		Genre:            BestGenre(ParentScores(preds)),
		Labels:           make([]string, len(top)),
		TopProbabilities: make([]float64, len(top)),
		TopProbsDict:     make(map[string]float64, len(top)),
	}
	for i, p := range top {
		label.Labels[i] = p.Label
		label.TopProbabilities[i] = p.Probability
		label.TopProbsDict[p.Label] = p.Probability
	}
	return label, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func removeEmptyDirs(dir string, genres []string) error {
	for _, genre := range genres {
		path := filepath.Join(dir, FolderName(genre))
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if len(entries) == 0 {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			log.Debugf("removed empty folder %s", path)
		}
	}
	return nil
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
