// Package vocab trains subword vocabularies from a text corpus and writes
// them in the layout speech-to-text toolkits read:
//
//	<prefix>.model  sentencepiece ModelProto
//	<prefix>.vocab  piece<TAB>score, one per id
//	<prefix>.txt    fairseq dictionary, "piece 1" per line, specials excluded
//
// Two trainers are available. Builtin runs in process and writes a
// ModelProto that sentencepiece loads; SentencePiece shells out to
// spm_train for models trained by the reference implementation.
package vocab

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/haivivi/speechprep/pkg/corpus"
)

// Type is a vocabulary model type.
type Type string

// Supported types.
const (
	Char    Type = "char"
	BPE     Type = "bpe"
	Unigram Type = "unigram"
)

// ParseType validates a vocabulary type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Char, BPE, Unigram:
		return t, nil
	}
	return "", fmt.Errorf("%w: vocab type %q, want bpe, unigram or char", corpus.ErrInvalidArgument, s)
}

// Prefix returns the artifact prefix for a vocabulary, e.g. spm_unigram10000.
// The size is omitted for char vocabularies.
func Prefix(t Type, size int) string {
	if t == Char {
		return "spm_char"
	}
	return "spm_" + string(t) + strconv.Itoa(size)
}

// Special pieces and their fixed ids.
const (
	BOS = "<s>"
	PAD = "<pad>"
	EOS = "</s>"
	UNK = "<unk>"

	BOSID = 0
	PADID = 1
	EOSID = 2
	UNKID = 3
)

var specials = []string{BOS, PAD, EOS, UNK}

// WordBoundary marks the start of a word inside pieces.
const WordBoundary = "▁"

// Options describes one training run.
type Options struct {
	Type   Type
	Size   int    // target vocabulary size including specials; ignored for Char
	Input  string // text file, one sentence per line
	Prefix string // output path prefix, e.g. out/spm_bpe8000
}

// Validate reports option errors.
func (o Options) Validate() error {
	if _, err := ParseType(string(o.Type)); err != nil {
		return err
	}
	if o.Type != Char && o.Size <= len(specials) {
		return fmt.Errorf("%w: vocab size %d must exceed %d", corpus.ErrInvalidArgument, o.Size, len(specials))
	}
	if o.Input == "" || o.Prefix == "" {
		return fmt.Errorf("%w: input and prefix are required", corpus.ErrInvalidArgument)
	}
	return nil
}

// Trainer trains a vocabulary and writes its artifacts.
type Trainer interface {
	Train(ctx context.Context, opts Options) error
}

// writeDict writes the fairseq dictionary for pieces, skipping specials.
func writeDict(path string, pieces []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range pieces {
		if isSpecial(p) {
			continue
		}
		fmt.Fprintf(w, "%s 1\n", p)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isSpecial(p string) bool {
	for _, s := range specials {
		if p == s {
			return true
		}
	}
	return false
}
