// Package prep runs the corpus preparation pipeline: feature extraction,
// feature packing, manifests, vocabulary training and the data config.
//
// Everything is written under one output root, which also serves as the
// corpus root:
//
//	<root>/<folder>/<language>/...   corpus (downloaded on demand)
//	<root>/fbank80/                  scratch features, removed at the end
//	<root>/fbank80.zip               packed features
//	<root>/<split>.tsv               manifests
//	<root>/train_text.txt            vocabulary training text
//	<root>/spm_<type><size>.*        vocabulary
//	<root>/config.yaml               data config
package prep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/speechprep/pkg/audio"
	"github.com/haivivi/speechprep/pkg/corpus"
	"github.com/haivivi/speechprep/pkg/kv"
	"github.com/haivivi/speechprep/pkg/metrics"
	"github.com/haivivi/speechprep/pkg/vocab"
)

// Artifact names under the output root.
const (
	FeatureDir    = "fbank80"
	ArchiveName   = "fbank80.zip"
	TrainTextName = "train_text.txt"
	ConfigName    = "config.yaml"
)

// Options configures a run.
type Options struct {
	Root      string // output root, also the corpus root
	Language  string
	VocabType vocab.Type
	VocabSize int

	Folder     string         // corpus release folder; defaults to corpus.DefaultFolder
	Splits     []corpus.Split // defaults to corpus.Splits
	SampleRate int            // defaults to corpus.DefaultSampleRate
	Resample   bool
	Workers    int // feature extraction parallelism; defaults to 1
	NumMels    int // defaults to 80
	CMVN       bool
	Speaker    bool // add the speaker column to manifests

	Trainer    vocab.Trainer     // defaults to vocab.Builtin
	Downloader corpus.Downloader // nil disables fetching missing splits
	Index      kv.Store          // archive member index; defaults to an in-memory store
	Metrics    *metrics.Metrics  // defaults to a fresh set
	Logger     *slog.Logger      // defaults to slog.Default()
}

func (o *Options) applyDefaults() {
	if o.Folder == "" {
		o.Folder = corpus.DefaultFolder
	}
	if len(o.Splits) == 0 {
		o.Splits = corpus.Splits
	}
	if o.SampleRate <= 0 {
		o.SampleRate = corpus.DefaultSampleRate
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.NumMels <= 0 {
		o.NumMels = 80
	}
	if o.Trainer == nil {
		o.Trainer = vocab.Builtin{}
	}
	if o.Index == nil {
		o.Index = kv.NewMemory()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func (o *Options) validate() error {
	if o.Root == "" {
		return fmt.Errorf("%w: output root is required", corpus.ErrInvalidArgument)
	}
	if o.Language == "" {
		return fmt.Errorf("%w: language is required", corpus.ErrInvalidArgument)
	}
	if _, err := vocab.ParseType(string(o.VocabType)); err != nil {
		return err
	}
	for _, s := range o.Splits {
		if _, err := corpus.ParseSplit(string(s)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Options) corpusOptions(download bool) []corpus.Option {
	return []corpus.Option{
		corpus.WithFolder(o.Folder),
		corpus.WithLoader(audio.Loader{SampleRate: o.SampleRate, Resample: o.Resample}),
		corpus.WithDownload(download),
		corpus.WithDownloader(o.Downloader),
	}
}

// SplitStats summarizes one split.
type SplitStats struct {
	Split    corpus.Split
	Samples  int
	Frames   int
	Audio    time.Duration
	Manifest string
}

// Stats summarizes a run.
type Stats struct {
	RunID     string
	Splits    []SplitStats
	Members   int
	Archive   string
	TrainText string
	Vocab     string // model path
	Dict      string // fairseq dictionary path
	Config    string
	Elapsed   time.Duration
}

// Samples returns the total number of extracted samples.
func (s *Stats) Samples() int {
	n := 0
	for _, sp := range s.Splits {
		n += sp.Samples
	}
	return n
}

// Frames returns the total number of extracted frames.
func (s *Stats) Frames() int {
	n := 0
	for _, sp := range s.Splits {
		n += sp.Frames
	}
	return n
}

// Audio returns the total source clip duration.
func (s *Stats) Audio() time.Duration {
	var d time.Duration
	for _, sp := range s.Splits {
		d += sp.Audio
	}
	return d
}

// Run executes the pipeline. Every stage error aborts the run; artifacts of
// completed stages are left in place.
func Run(ctx context.Context, opts Options) (*Stats, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root

	p := &pipeline{
		opts:  opts,
		stats: &Stats{RunID: uuid.NewString()},
		start: time.Now(),
	}
	p.log = opts.Logger.With("run", p.stats.RunID)
	p.log.Info("preparing corpus", "root", root, "language", opts.Language,
		"vocab_type", opts.VocabType, "vocab_size", opts.VocabSize, "workers", opts.Workers)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("prep: %w", err)
	}

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"features", p.extractFeatures},
		{"package", p.packageFeatures},
		{"manifests", p.writeManifests},
		{"vocab", p.trainVocab},
		{"config", p.writeConfig},
		{"cleanup", p.cleanup},
	}
	for _, st := range stages {
		t0 := time.Now()
		if err := st.run(ctx); err != nil {
			return nil, fmt.Errorf("prep: %s: %w", st.name, err)
		}
		opts.Metrics.StageTime.WithLabelValues(st.name).Observe(time.Since(t0).Seconds())
		p.log.Debug("stage done", "stage", st.name, "elapsed", time.Since(t0))
	}

	p.stats.Elapsed = time.Since(p.start)
	p.log.Info("corpus prepared", "samples", p.stats.Samples(), "frames", p.stats.Frames(), "elapsed", p.stats.Elapsed)
	return p.stats, nil
}

type pipeline struct {
	opts  Options
	log   *slog.Logger
	stats *Stats
	start time.Time

	trainText []string
}

func (p *pipeline) path(name string) string {
	return filepath.Join(p.opts.Root, name)
}

func (p *pipeline) splitStats(split corpus.Split) *SplitStats {
	for i := range p.stats.Splits {
		if p.stats.Splits[i].Split == split {
			return &p.stats.Splits[i]
		}
	}
	p.stats.Splits = append(p.stats.Splits, SplitStats{Split: split})
	return &p.stats.Splits[len(p.stats.Splits)-1]
}
