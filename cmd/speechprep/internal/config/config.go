// Package config loads the optional speechprep YAML configuration.
//
// Every field has a default, so a missing file is equivalent to:
//
//	folder: cv-corpus-15.0-2023-09-08
//	sample_rate: 16000
//	resample: true
//	workers: 1
//	fbank:
//	  num_mels: 80
//	  cmvn: false
//	manifest:
//	  speaker: false
//	vocab:
//	  trainer: builtin
//	  spm_train: spm_train
//	download:
//	  source: ""      # local mirror dir or s3://bucket/prefix; empty disables
//	  retries: 3
//	kv_dir: ""        # badger dir for the archive index; empty keeps it in memory
//	metrics_file: ""
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haivivi/speechprep/pkg/corpus"
)

// Trainer names.
const (
	TrainerBuiltin       = "builtin"
	TrainerSentencePiece = "sentencepiece"
)

// Config is the complete run configuration.
type Config struct {
	Folder      string         `yaml:"folder"`
	SampleRate  int            `yaml:"sample_rate"`
	Resample    bool           `yaml:"resample"`
	Workers     int            `yaml:"workers"`
	Fbank       FbankConfig    `yaml:"fbank"`
	Manifest    ManifestConfig `yaml:"manifest"`
	Vocab       VocabConfig    `yaml:"vocab"`
	Download    DownloadConfig `yaml:"download"`
	KVDir       string         `yaml:"kv_dir"`
	MetricsFile string         `yaml:"metrics_file"`
}

// FbankConfig configures feature extraction.
type FbankConfig struct {
	NumMels int  `yaml:"num_mels"`
	CMVN    bool `yaml:"cmvn"`
}

// ManifestConfig configures the TSV manifests.
type ManifestConfig struct {
	Speaker bool `yaml:"speaker"`
}

// VocabConfig selects the vocabulary trainer.
type VocabConfig struct {
	Trainer  string `yaml:"trainer"`
	SpmTrain string `yaml:"spm_train"`
}

// DownloadConfig describes where missing corpus releases are fetched from.
type DownloadConfig struct {
	Source    string `yaml:"source"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Retries   int    `yaml:"retries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Folder:     corpus.DefaultFolder,
		SampleRate: corpus.DefaultSampleRate,
		Resample:   true,
		Workers:    1,
		Fbank:      FbankConfig{NumMels: 80},
		Vocab:      VocabConfig{Trainer: TrainerBuiltin, SpmTrain: "spm_train"},
		Download:   DownloadConfig{Retries: 3},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Folder == "" {
		errs = append(errs, errors.New("folder is required"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if err := c.Fbank.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fbank config: %w", err))
	}
	if err := c.Vocab.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vocab config: %w", err))
	}
	if c.Download.Retries < 0 {
		errs = append(errs, fmt.Errorf("download config: retries must not be negative, got %d", c.Download.Retries))
	}
	return errors.Join(errs...)
}

// Validate validates the fbank configuration.
func (f *FbankConfig) Validate() error {
	if f.NumMels <= 0 || f.NumMels > 256 {
		return fmt.Errorf("num_mels must be in (0, 256], got %d", f.NumMels)
	}
	return nil
}

// Validate validates the vocab configuration.
func (v *VocabConfig) Validate() error {
	switch v.Trainer {
	case TrainerBuiltin:
		return nil
	case TrainerSentencePiece:
		if v.SpmTrain == "" {
			return errors.New("spm_train is required for the sentencepiece trainer")
		}
		return nil
	}
	return fmt.Errorf("unknown trainer %q", v.Trainer)
}
