package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haivivi/speechprep/pkg/corpus"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speechprep.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Folder != corpus.DefaultFolder {
		t.Errorf("Folder = %q, want %q", cfg.Folder, corpus.DefaultFolder)
	}
	if cfg.SampleRate != 16000 || !cfg.Resample {
		t.Errorf("SampleRate/Resample = %d/%v, want 16000/true", cfg.SampleRate, cfg.Resample)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
workers: 4
fbank:
  cmvn: true
manifest:
  speaker: true
download:
  source: s3://corpora/common-voice
  region: eu-west-1
kv_dir: /var/lib/speechprep/index
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Fbank.NumMels != 80 || !cfg.Fbank.CMVN {
		t.Errorf("Fbank = %+v, want num_mels 80 with cmvn", cfg.Fbank)
	}
	if !cfg.Manifest.Speaker {
		t.Error("Manifest.Speaker = false, want true")
	}
	if cfg.Download.Source != "s3://corpora/common-voice" || cfg.Download.Retries != 3 {
		t.Errorf("Download = %+v", cfg.Download)
	}
	if cfg.Vocab.Trainer != TrainerBuiltin {
		t.Errorf("Vocab.Trainer = %q, want %q", cfg.Vocab.Trainer, TrainerBuiltin)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"workers", "workers: 0", "workers"},
		{"sample rate", "sample_rate: -1", "sample_rate"},
		{"mels", "fbank: {num_mels: 0}", "num_mels"},
		{"trainer", "vocab: {trainer: wordpiece}", "unknown trainer"},
		{"spm", "vocab: {trainer: sentencepiece, spm_train: ''}", "spm_train"},
		{"retries", "download: {retries: -2}", "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "workers: [1, 2")); err == nil {
		t.Fatal("expected parse error")
	}
}
