package prep

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/speechprep/pkg/corpus"
)

// DataConfig is the dataset description read by speech-to-text training.
// Fields are declared in key order so the output is stable.
type DataConfig struct {
	BPETokenizer        Tokenizer     `yaml:"bpe_tokenizer"`
	InputChannels       int           `yaml:"input_channels"`
	InputFeatPerChannel int           `yaml:"input_feat_per_channel"`
	SpecAugment         SpecAugment   `yaml:"specaugment"`
	Transforms          yaml.MapSlice `yaml:"transforms"`
	VocabFilename       string        `yaml:"vocab_filename"`
}

// Tokenizer names the subword model.
type Tokenizer struct {
	BPE                string `yaml:"bpe"`
	SentencepieceModel string `yaml:"sentencepiece_model"`
}

// SpecAugment holds masking parameters.
type SpecAugment struct {
	FreqMaskF int     `yaml:"freq_mask_F"`
	FreqMaskN int     `yaml:"freq_mask_N"`
	TimeMaskN int     `yaml:"time_mask_N"`
	TimeMaskT int     `yaml:"time_mask_T"`
	TimeMaskP float64 `yaml:"time_mask_p"`
	TimeWrapW int     `yaml:"time_wrap_W"`
}

// SpecAugment policy names.
const (
	PolicyLB = "lb"
	PolicyLD = "ld"
	PolicySM = "sm"
	PolicySS = "ss"
)

var policies = map[string]SpecAugment{
	PolicyLB: {FreqMaskF: 27, FreqMaskN: 1, TimeMaskN: 1, TimeMaskT: 100, TimeMaskP: 1.0},
	PolicyLD: {FreqMaskF: 27, FreqMaskN: 2, TimeMaskN: 2, TimeMaskT: 100, TimeMaskP: 1.0},
	PolicySM: {FreqMaskF: 15, FreqMaskN: 2, TimeMaskN: 2, TimeMaskT: 70, TimeMaskP: 0.2},
	PolicySS: {FreqMaskF: 27, FreqMaskN: 2, TimeMaskN: 2, TimeMaskT: 70, TimeMaskP: 0.2},
}

// Policy returns the named SpecAugment policy.
func Policy(name string) (SpecAugment, error) {
	p, ok := policies[name]
	if !ok {
		return SpecAugment{}, fmt.Errorf("%w: specaugment policy %q", corpus.ErrInvalidArgument, name)
	}
	return p, nil
}

// NewDataConfig describes a dataset with the given sentencepiece model file,
// feature width and SpecAugment policy. Unknown policies fall back to ld.
func NewDataConfig(spmModel string, numMels int, policy string) DataConfig {
	sa, err := Policy(policy)
	if err != nil {
		sa = policies[PolicyLD]
	}
	return DataConfig{
		BPETokenizer: Tokenizer{
			BPE:                "sentencepiece",
			SentencepieceModel: spmModel,
		},
		InputChannels:       1,
		InputFeatPerChannel: numMels,
		SpecAugment:         sa,
		Transforms: yaml.MapSlice{
			{Key: "*", Value: []string{"utterance_cmvn"}},
			{Key: "_train", Value: []string{"utterance_cmvn", "specaugment"}},
		},
		VocabFilename: strings.TrimSuffix(spmModel, ".model") + ".txt",
	}
}

// WriteDataConfig writes cfg as YAML to path.
func WriteDataConfig(path string, cfg DataConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode data config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
