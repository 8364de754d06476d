package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haivivi/speechprep/cmd/speechprep/internal/config"
	"github.com/haivivi/speechprep/pkg/cli"
	"github.com/haivivi/speechprep/pkg/corpus"
	"github.com/haivivi/speechprep/pkg/kv"
	"github.com/haivivi/speechprep/pkg/metrics"
	"github.com/haivivi/speechprep/pkg/prep"
	"github.com/haivivi/speechprep/pkg/storage"
	"github.com/haivivi/speechprep/pkg/vocab"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	formatOutput string

	// Run flags
	outputRoot string
	vocabType  string
	vocabSize  int
	language   string
)

var rootCmd = &cobra.Command{
	Use:   "speechprep -o DIR --language CODE --vocab-type TYPE",
	Short: "Prepare a Common Voice corpus for speech-to-text training",
	Long: `speechprep - turn a Common Voice release into training artifacts.

For every split (train, dev, test, validated, other) it extracts 80-dim
log-mel filterbank features, packs them into fbank80.zip, writes one TSV
manifest per split, trains a subword vocabulary on the training transcripts
and writes the data config. Missing corpus files are fetched from
download.source when a config file sets one.

Artifacts under the output root:
  fbank80.zip           packed features
  <split>.tsv           manifests (id, audio, n_frames, tgt_text)
  train_text.txt        vocabulary training text
  spm_<type><size>.*    vocabulary model, pieces and dictionary
  config.yaml           data config

Examples:
  # Unigram vocabulary of 10000 pieces for Welsh
  speechprep -o /data/cv-cy --language cy --vocab-type unigram

  # Character vocabulary, settings from a config file, JSON report
  speechprep -o /data/cv-cy --language cy --vocab-type char \
    --config speechprep.yaml --format json`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPrep,
}

// Execute runs the root command. An interrupt cancels the run.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "summary", "output format: summary, yaml, json")

	rootCmd.Flags().StringVarP(&outputRoot, "output-root", "o", "", "output root (also holds the corpus)")
	rootCmd.Flags().StringVar(&vocabType, "vocab-type", "unigram", "vocabulary type: bpe, unigram, char")
	rootCmd.Flags().IntVar(&vocabSize, "vocab-size", 10000, "vocabulary size (ignored for char)")
	rootCmd.Flags().StringVar(&language, "language", "", "Common Voice language code")
	_ = rootCmd.MarkFlagRequired("output-root")
	_ = rootCmd.MarkFlagRequired("vocab-type")
	_ = rootCmd.MarkFlagRequired("language")
}

func initConfig() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// loadConfig returns the --config file, or the defaults without one.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

func runPrep(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	vt, err := vocab.ParseType(vocabType)
	if err != nil {
		return err
	}

	opts := prep.Options{
		Root:       outputRoot,
		Language:   language,
		VocabType:  vt,
		VocabSize:  vocabSize,
		Folder:     cfg.Folder,
		SampleRate: cfg.SampleRate,
		Resample:   cfg.Resample,
		Workers:    cfg.Workers,
		NumMels:    cfg.Fbank.NumMels,
		CMVN:       cfg.Fbank.CMVN,
		Speaker:    cfg.Manifest.Speaker,
		Metrics:    metrics.New(),
		Logger:     slog.Default(),
	}
	if cfg.Vocab.Trainer == config.TrainerSentencePiece {
		opts.Trainer = vocab.SentencePiece{Bin: cfg.Vocab.SpmTrain}
	}
	if src := cfg.Download.Source; src != "" {
		store, err := storage.Open(src, storage.S3Config{
			Endpoint:  cfg.Download.Endpoint,
			Region:    cfg.Download.Region,
			AccessKey: cfg.Download.AccessKey,
			SecretKey: cfg.Download.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("download source: %w", err)
		}
		opts.Downloader = &corpus.StoreDownloader{Store: store, Retries: uint64(cfg.Download.Retries)}
	}

	index, err := kv.Open(cfg.KVDir)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer index.Close()
	opts.Index = index

	stats, err := prep.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		if err := opts.Metrics.WriteFile(cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		cli.PrintSuccess(cmd.ErrOrStderr(), "metrics written to %s", cfg.MetricsFile)
	}

	out := cmd.OutOrStdout()
	if format != cli.FormatSummary {
		return cli.Output(out, newReport(stats), format)
	}
	fmt.Fprintln(out, summarize(stats).Render())
	return nil
}

// report is the yaml/json form of prep.Stats.
type report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Splits    []splitReport `json:"splits" yaml:"splits"`
	Members   int           `json:"members" yaml:"members"`
	Archive   string        `json:"archive" yaml:"archive"`
	TrainText string        `json:"train_text" yaml:"train_text"`
	Vocab     string        `json:"vocab" yaml:"vocab"`
	Dict      string        `json:"dict" yaml:"dict"`
	Config    string        `json:"config" yaml:"config"`
	Elapsed   float64       `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}

type splitReport struct {
	Split    string  `json:"split" yaml:"split"`
	Samples  int     `json:"samples" yaml:"samples"`
	Frames   int     `json:"frames" yaml:"frames"`
	Audio    float64 `json:"audio_seconds" yaml:"audio_seconds"`
	Manifest string  `json:"manifest" yaml:"manifest"`
}

func newReport(s *prep.Stats) report {
	r := report{
		RunID:     s.RunID,
		Members:   s.Members,
		Archive:   s.Archive,
		TrainText: s.TrainText,
		Vocab:     s.Vocab,
		Dict:      s.Dict,
		Config:    s.Config,
		Elapsed:   s.Elapsed.Seconds(),
	}
	for _, sp := range s.Splits {
		r.Splits = append(r.Splits, splitReport{
			Split:    string(sp.Split),
			Samples:  sp.Samples,
			Frames:   sp.Frames,
			Audio:    sp.Audio.Seconds(),
			Manifest: sp.Manifest,
		})
	}
	return r
}

func summarize(s *prep.Stats) cli.Summary {
	splits := cli.Section{Label: "Splits"}
	for _, sp := range s.Splits {
		splits.Fields = append(splits.Fields, cli.Field{
			Label: string(sp.Split),
			Value: fmt.Sprintf("%s samples, %s frames, %s",
				cli.FormatCount(sp.Samples), cli.FormatCount(sp.Frames), cli.FormatDuration(sp.Audio)),
		})
	}
	total := cli.Section{Label: "Total", Fields: []cli.Field{
		{Label: "samples", Value: cli.FormatCount(s.Samples())},
		{Label: "frames", Value: cli.FormatCount(s.Frames())},
		{Label: "audio", Value: fmt.Sprintf("%.2f h", s.Audio().Hours())},
		{Label: "members", Value: cli.FormatCount(s.Members)},
		{Label: "elapsed", Value: cli.FormatDuration(s.Elapsed)},
	}}
	artifacts := cli.Section{Label: "Artifacts"}
	for _, a := range []cli.Field{
		{Label: "archive", Value: withSize(s.Archive)},
		{Label: "train text", Value: s.TrainText},
		{Label: "vocab", Value: s.Vocab},
		{Label: "dict", Value: s.Dict},
		{Label: "config", Value: s.Config},
	} {
		if a.Value != "" {
			artifacts.Fields = append(artifacts.Fields, a)
		}
	}
	return cli.Summary{
		Styles:   cli.NewStyles(cli.DefaultTheme),
		Title:    "speechprep",
		Status:   "run " + shortID(s.RunID),
		Sections: []cli.Section{splits, total, artifacts},
	}
}

func withSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, cli.FormatBytes(fi.Size()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
