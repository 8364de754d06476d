package prep

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"

	"github.com/haivivi/speechprep/pkg/audio/codec/wav"
	"github.com/haivivi/speechprep/pkg/audio/pcm"
	"github.com/haivivi/speechprep/pkg/corpus"
	"github.com/haivivi/speechprep/pkg/featzip"
	"github.com/haivivi/speechprep/pkg/storage"
	"github.com/haivivi/speechprep/pkg/vocab"
)

type clip struct {
	id       int
	sentence string
	seconds  float64
}

func clipName(id int) string {
	return fmt.Sprintf("common_voice_en_%d.mp3", id)
}

func clipBytes(t *testing.T, seconds float64, freq float64) []byte {
	t.Helper()
	const rate = 16000
	w := pcm.Waveform{Samples: make([]float32, int(rate*seconds)), SampleRate: rate}
	for i := range w.Samples {
		w.Samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	var buf bytes.Buffer
	if err := wav.Encode(&buf, w.Int16LE(), rate, 1); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func splitTable(clips []clip) string {
	var b strings.Builder
	b.WriteString("client_id\tpath\tsentence\n")
	for _, c := range clips {
		fmt.Fprintf(&b, "spk%d\t%s\t%s\n", c.id%2, clipName(c.id), c.sentence)
	}
	return b.String()
}

// writeCorpus lays out a corpus under root and returns the language dir.
func writeCorpus(t *testing.T, root string, splits map[corpus.Split][]clip) string {
	t.Helper()
	base := filepath.Join(root, corpus.DefaultFolder, "en")
	if err := os.MkdirAll(filepath.Join(base, "clips"), 0o755); err != nil {
		t.Fatal(err)
	}
	for split, clips := range splits {
		if err := os.WriteFile(filepath.Join(base, string(split)+".tsv"), []byte(splitTable(clips)), 0o644); err != nil {
			t.Fatal(err)
		}
		for _, c := range clips {
			data := clipBytes(t, c.seconds, 200+float64(c.id)*50)
			if err := os.WriteFile(filepath.Join(base, "clips", clipName(c.id)), data, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return base
}

func baseOptions(root string) Options {
	return Options{
		Root:      root,
		Language:  "en",
		VocabType: vocab.Char,
		VocabSize: 10000,
		Splits:    []corpus.Split{corpus.Train},
		Resample:  true,
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunSingleSample(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{id: 1, sentence: "Hello World", seconds: 0.5}},
	})

	stats, err := Run(context.Background(), baseOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Samples() != 1 || stats.Frames() != 48 || stats.Members != 1 {
		t.Fatalf("stats = %d samples, %d frames, %d members; want 1, 48, 1", stats.Samples(), stats.Frames(), stats.Members)
	}

	tsv := readFile(t, filepath.Join(root, "train.tsv"))
	lines := strings.Split(strings.TrimSuffix(tsv, "\n"), "\n")
	if len(lines) != 2 || lines[0] != "id\taudio\tn_frames\ttgt_text" {
		t.Fatalf("train.tsv = %q", tsv)
	}
	fields := strings.Split(lines[1], "\t")
	if fields[0] != "1" || fields[2] != "48" || fields[3] != "hello world" {
		t.Fatalf("row = %q", fields)
	}

	// The audio column addresses the .npy bytes inside the archive.
	loc := strings.Split(fields[1], ":")
	if len(loc) != 3 || loc[0] != ArchiveName {
		t.Fatalf("audio = %q", fields[1])
	}
	off, _ := strconv.ParseInt(loc[1], 10, 64)
	length, _ := strconv.ParseInt(loc[2], 10, 64)
	feats, err := featzip.ReadFeatures(root, featzip.Entry{Archive: loc[0], Offset: off, Length: length})
	if err != nil {
		t.Fatal(err)
	}
	if feats.NumFrames() != 48 || len(feats[0]) != 80 {
		t.Fatalf("features = %dx%d, want 48x80", feats.NumFrames(), len(feats[0]))
	}

	if got := readFile(t, filepath.Join(root, TrainTextName)); got != "hello world\n" {
		t.Fatalf("train_text = %q", got)
	}
	for _, name := range []string{"spm_char.model", "spm_char.vocab", "spm_char.txt", ConfigName, ArchiveName} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, FeatureDir)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir not removed: %v", err)
	}

	var cfg map[string]any
	if err := yaml.Unmarshal([]byte(readFile(t, filepath.Join(root, ConfigName))), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg["vocab_filename"] != "spm_char.txt" {
		t.Fatalf("vocab_filename = %v", cfg["vocab_filename"])
	}
}

func TestAudioCountsSourceDuration(t *testing.T) {
	root := t.TempDir()
	base := writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {
			{id: 1, sentence: "one", seconds: 0.5},
			{id: 2, sentence: "two", seconds: 0.5},
		},
	})
	// Replace clip 2 with 1.2 s of 48 kHz MP3.
	mp3, err := os.ReadFile(filepath.Join("..", "audio", "codec", "mp3", "testdata", "silence_48k_mono.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "clips", clipName(2)), mp3, 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := Run(context.Background(), baseOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	want := 1700 * time.Millisecond
	if d := stats.Audio() - want; d < -2*time.Millisecond || d > 2*time.Millisecond {
		t.Fatalf("audio = %v, want about %v", stats.Audio(), want)
	}
	if got := stats.Splits[0].Audio; got != stats.Audio() {
		t.Fatalf("split audio = %v, total %v", got, stats.Audio())
	}
}

func TestConfigNamesLoadableSentencePieceModel(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{id: 1, sentence: "Hello World", seconds: 0.5}, {id: 2, sentence: "hello there", seconds: 0.3}},
	})
	opts := baseOptions(root)
	opts.VocabType = vocab.Unigram
	opts.VocabSize = 20
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}

	var cfg struct {
		BPETokenizer Tokenizer `yaml:"bpe_tokenizer"`
	}
	if err := yaml.Unmarshal([]byte(readFile(t, filepath.Join(root, ConfigName))), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.BPETokenizer.BPE != "sentencepiece" {
		t.Fatalf("bpe = %q", cfg.BPETokenizer.BPE)
	}
	model := filepath.Join(root, cfg.BPETokenizer.SentencepieceModel)
	if data := readFile(t, model); data[0] != 0x0a {
		t.Fatalf("%s starts with %#x, want a ModelProto pieces field", model, data[0])
	}
	m, err := vocab.LoadModel(model)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != vocab.Unigram {
		t.Fatalf("model type = %s, want unigram", m.Type)
	}
}

// msgpackTrainer writes a model file that is not a sentencepiece model.
type msgpackTrainer struct{}

func (msgpackTrainer) Train(_ context.Context, opts vocab.Options) error {
	if err := os.WriteFile(opts.Prefix+".model", []byte{0x82, 0xa4, 't', 'y', 'p', 'e'}, 0o644); err != nil {
		return err
	}
	return os.WriteFile(opts.Prefix+".txt", []byte("a 1\n"), 0o644)
}

func TestRunRejectsNonSentencePieceModel(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{id: 1, sentence: "hello", seconds: 0.3}},
	})
	opts := baseOptions(root)
	opts.Trainer = msgpackTrainer{}
	_, err := Run(context.Background(), opts)
	if err == nil || !strings.Contains(err.Error(), "tokenizer model") {
		t.Fatalf("Run = %v, want tokenizer model error", err)
	}
	if _, err := os.Stat(filepath.Join(root, ConfigName)); !os.IsNotExist(err) {
		t.Fatalf("config.yaml written for a non-sentencepiece model: %v", err)
	}
}

func TestManifestLowercasesButCorpusDoesNot(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{id: 5, sentence: "ÉCOLE Quoted \"Text\"", seconds: 0.3}},
	})
	if _, err := Run(context.Background(), baseOptions(root)); err != nil {
		t.Fatal(err)
	}

	ds, err := corpus.Open(root, "en", corpus.Train)
	if err != nil {
		t.Fatal(err)
	}
	s, err := ds.Metadata(0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Transcript != "ÉCOLE Quoted \"Text\"" {
		t.Fatalf("raw transcript = %q", s.Transcript)
	}
	tsv := readFile(t, filepath.Join(root, "train.tsv"))
	if !strings.HasSuffix(tsv, "\técole quoted \\\"text\\\"\n") {
		t.Fatalf("manifest = %q", tsv)
	}
}

func TestRerunIsByteIdentical(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{1, "one two", 0.4}, {2, "three", 0.6}, {3, "two three", 0.5}},
		corpus.Dev:   {{4, "four", 0.3}},
	})
	opts := baseOptions(root)
	opts.Splits = []corpus.Split{corpus.Train, corpus.Dev}
	opts.Workers = 3

	artifacts := []string{"train.tsv", "dev.tsv", ArchiveName, TrainTextName, "spm_char.vocab", ConfigName}
	snapshot := func() map[string]string {
		m := make(map[string]string)
		for _, a := range artifacts {
			m[a] = readFile(t, filepath.Join(root, a))
		}
		return m
	}

	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	first := snapshot()
	opts.Workers = 1
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	second := snapshot()
	for _, a := range artifacts {
		if first[a] != second[a] {
			t.Fatalf("%s differs between runs", a)
		}
	}
	if got := first[TrainTextName]; got != "one two\nthree\ntwo three\n" {
		t.Fatalf("train_text = %q", got)
	}
}

func TestSpeakerColumn(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{3, "x", 0.3}},
	})
	opts := baseOptions(root)
	opts.Speaker = true
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	tsv := readFile(t, filepath.Join(root, "train.tsv"))
	if !strings.HasPrefix(tsv, "id\taudio\tn_frames\ttgt_text\tspeaker\n") || !strings.HasSuffix(tsv, "\tx\tspk1\n") {
		t.Fatalf("manifest = %q", tsv)
	}
}

func TestRunMissingSplitWithoutSource(t *testing.T) {
	root := t.TempDir()
	writeCorpus(t, root, map[corpus.Split][]clip{
		corpus.Train: {{1, "a", 0.3}},
	})
	opts := baseOptions(root)
	opts.Splits = nil // every split

	_, err := Run(context.Background(), opts)
	if !errors.Is(err, corpus.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRunBadIdentifier(t *testing.T) {
	root := t.TempDir()
	base := writeCorpus(t, root, map[corpus.Split][]clip{corpus.Train: {{1, "a", 0.3}}})
	if err := os.WriteFile(filepath.Join(base, "train.tsv"), []byte("path\tsentence\nclip.mp3\ta\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), baseOptions(root)); !errors.Is(err, corpus.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRunInvalidOptions(t *testing.T) {
	opts := baseOptions(t.TempDir())
	opts.VocabType = "word"
	if _, err := Run(context.Background(), opts); !errors.Is(err, corpus.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestRunDownloadsFromMirror(t *testing.T) {
	// Build the corpus elsewhere, then publish it as a tar.gz mirror object.
	src := t.TempDir()
	writeCorpus(t, src, map[corpus.Split][]clip{corpus.Train: {{9, "from mirror", 0.3}}})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	err := filepath.Walk(filepath.Join(src, corpus.DefaultFolder), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{Name: filepath.ToSlash(rel), Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	tw.Close()
	zw.Close()

	mirrorDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(mirrorDir, corpus.ArchiveName(corpus.DefaultFolder, "en")), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	mirror, err := storage.NewLocal(mirrorDir)
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	opts := baseOptions(root)
	opts.Downloader = &corpus.StoreDownloader{Store: mirror}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(readFile(t, filepath.Join(root, "train.tsv")), "\tfrom mirror\n") {
		t.Fatal("manifest missing mirrored sample")
	}
}

func TestForEach(t *testing.T) {
	var calls atomic.Int32
	if err := forEach(context.Background(), 50, 4, func(context.Context, int) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 50 {
		t.Fatalf("calls = %d, want 50", calls.Load())
	}

	boom := errors.New("boom")
	err := forEach(context.Background(), 1000, 2, func(_ context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := forEach(ctx, 10, 1, func(context.Context, int) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDataConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigName)
	if err := WriteDataConfig(path, NewDataConfig("spm_unigram10000.model", 80, PolicyLD)); err != nil {
		t.Fatal(err)
	}
	var got struct {
		BPETokenizer        map[string]string   `yaml:"bpe_tokenizer"`
		InputChannels       int                 `yaml:"input_channels"`
		InputFeatPerChannel int                 `yaml:"input_feat_per_channel"`
		SpecAugment         SpecAugment         `yaml:"specaugment"`
		Transforms          map[string][]string `yaml:"transforms"`
		VocabFilename       string              `yaml:"vocab_filename"`
	}
	if err := yaml.Unmarshal([]byte(readFile(t, path)), &got); err != nil {
		t.Fatal(err)
	}
	if got.BPETokenizer["bpe"] != "sentencepiece" || got.BPETokenizer["sentencepiece_model"] != "spm_unigram10000.model" {
		t.Fatalf("bpe_tokenizer = %v", got.BPETokenizer)
	}
	if got.InputChannels != 1 || got.InputFeatPerChannel != 80 {
		t.Fatalf("input = %d x %d", got.InputChannels, got.InputFeatPerChannel)
	}
	want := SpecAugment{FreqMaskF: 27, FreqMaskN: 2, TimeMaskN: 2, TimeMaskT: 100, TimeMaskP: 1.0}
	if got.SpecAugment != want {
		t.Fatalf("specaugment = %+v, want %+v", got.SpecAugment, want)
	}
	if len(got.Transforms["*"]) != 1 || len(got.Transforms["_train"]) != 2 || got.Transforms["_train"][1] != "specaugment" {
		t.Fatalf("transforms = %v", got.Transforms)
	}
	if got.VocabFilename != "spm_unigram10000.txt" {
		t.Fatalf("vocab_filename = %q", got.VocabFilename)
	}

	if _, err := Policy("xx"); !errors.Is(err, corpus.ErrInvalidArgument) {
		t.Fatalf("Policy(xx) = %v", err)
	}
}
