package vocab

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// SentencePiece trains with the spm_train binary.
type SentencePiece struct {
	// Bin is the spm_train executable. Defaults to "spm_train" on PATH.
	Bin string
}

// Train implements Trainer.
func (s SentencePiece) Train(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	bin := s.Bin
	if bin == "" {
		bin = "spm_train"
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, spmArgs(opts)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	slog.Debug("running spm_train", "bin", bin, "args", cmd.Args[1:])
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("vocab: %s: %w: %s", bin, err, lastLine(out.String()))
	}

	pieces, err := readVocab(opts.Prefix + ".vocab")
	if err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	if err := writeDict(opts.Prefix+".txt", pieces); err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	return nil
}

func spmArgs(opts Options) []string {
	args := []string{
		"--input=" + opts.Input,
		"--model_prefix=" + opts.Prefix,
		"--model_type=" + string(opts.Type),
		"--character_coverage=1.0",
		"--bos_id=" + strconv.Itoa(BOSID),
		"--pad_id=" + strconv.Itoa(PADID),
		"--eos_id=" + strconv.Itoa(EOSID),
		"--unk_id=" + strconv.Itoa(UNKID),
	}
	if opts.Type != Char {
		args = append(args, "--vocab_size="+strconv.Itoa(opts.Size))
	}
	return args
}

// readVocab returns the pieces of a .vocab file in id order.
func readVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pieces []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		piece, _, _ := strings.Cut(sc.Text(), "\t")
		pieces = append(pieces, piece)
	}
	return pieces, sc.Err()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
