// Package corpus indexes a Common Voice style speech corpus.
//
// A corpus root holds one directory per release folder and language:
//
//	<root>/<folder>/<language>/clips/common_voice_<language>_<id>.mp3
//	<root>/<folder>/<language>/<split>.tsv
//
// Open reads a split's metadata table once; samples are then addressed by
// row index. Audio is decoded on each Load and never cached.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haivivi/speechprep/pkg/audio"
	"github.com/haivivi/speechprep/pkg/audio/pcm"
)

// Sentinel errors.
var (
	ErrInvalidArgument = errors.New("corpus: invalid argument")
	ErrNotFound        = errors.New("corpus: not found")
)

// DefaultFolder is the release folder used when WithFolder is not given.
const DefaultFolder = "cv-corpus-15.0-2023-09-08"

// DefaultSampleRate is the rate clips are decoded to unless WithLoader
// says otherwise.
const DefaultSampleRate = 16000

// Split names a metadata table of a release.
type Split string

// Known splits.
const (
	Train     Split = "train"
	Dev       Split = "dev"
	Test      Split = "test"
	Validated Split = "validated"
	Other     Split = "other"
)

// Splits lists every known split in processing order.
var Splits = []Split{Train, Dev, Test, Validated, Other}

// ParseSplit validates a split name.
func ParseSplit(s string) (Split, error) {
	for _, sp := range Splits {
		if string(sp) == s {
			return sp, nil
		}
	}
	return "", fmt.Errorf("%w: split %q, want one of %v", ErrInvalidArgument, s, Splits)
}

// IsTrain reports whether the split feeds vocabulary training.
func (s Split) IsTrain() bool {
	return strings.HasPrefix(string(s), "train")
}

// Record is one row of a split's metadata table.
type Record struct {
	Path     string // clip file name relative to the clips directory
	Sentence string
	ClientID string
}

// Sample is a resolved record.
type Sample struct {
	Path       string // absolute clip path
	SampleRate int
	Transcript string // raw sentence, case preserved
	ID         string // digit run from the clip file name
	Speaker    string
}

// Option configures Open.
type Option func(*options)

type options struct {
	folder     string
	download   bool
	downloader Downloader
	loader     audio.Loader
	ctx        context.Context
}

// WithFolder overrides the release folder.
func WithFolder(folder string) Option {
	return func(o *options) { o.folder = folder }
}

// WithDownload allows Open to fetch missing metadata via the configured
// Downloader.
func WithDownload(enabled bool) Option {
	return func(o *options) { o.download = enabled }
}

// WithDownloader sets the Downloader used when WithDownload is enabled.
func WithDownloader(d Downloader) Option {
	return func(o *options) { o.downloader = d }
}

// WithLoader sets the audio loader and thereby the sample rate.
func WithLoader(l audio.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithContext bounds downloads started by Open.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// Dataset is the in-memory index of one split.
type Dataset struct {
	language string
	split    Split
	clipsDir string
	metaPath string
	loader   audio.Loader
	idRe     *regexp.Regexp
	records  []Record
}

// Open indexes root/<folder>/<language>/<split>.tsv.
func Open(root, language string, split Split, opts ...Option) (*Dataset, error) {
	o := options{
		folder: DefaultFolder,
		loader: audio.Loader{SampleRate: DefaultSampleRate, Resample: true},
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ParseSplit(string(split)); err != nil {
		return nil, err
	}
	if language == "" {
		return nil, fmt.Errorf("%w: empty language", ErrInvalidArgument)
	}

	base := filepath.Join(root, o.folder, language)
	d := &Dataset{
		language: language,
		split:    split,
		clipsDir: filepath.Join(base, "clips"),
		metaPath: filepath.Join(base, string(split)+".tsv"),
		loader:   o.loader,
		idRe:     idPattern(language),
	}

	if !isFile(d.metaPath) {
		if !o.download {
			return nil, fmt.Errorf("%w: dataset not found at %s, enable download to fetch it", ErrNotFound, d.metaPath)
		}
		if o.downloader == nil {
			return nil, fmt.Errorf("%w: dataset not found at %s and no download source is configured", ErrNotFound, d.metaPath)
		}
		if err := o.downloader.Download(o.ctx, root, o.folder, language); err != nil {
			return nil, fmt.Errorf("corpus: download %s/%s: %w", o.folder, language, err)
		}
		if !isFile(d.metaPath) {
			return nil, fmt.Errorf("%w: %s still missing after download", ErrNotFound, d.metaPath)
		}
	}

	f, err := os.Open(d.metaPath)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()
	d.records, err = readRecords(f)
	if err != nil {
		return nil, fmt.Errorf("corpus: %s: %w", d.metaPath, err)
	}
	return d, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Split returns the split this dataset was opened for.
func (d *Dataset) Split() Split {
	return d.split
}

// Record returns row n as read from the table.
func (d *Dataset) Record(n int) (Record, error) {
	if n < 0 || n >= len(d.records) {
		return Record{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidArgument, n, len(d.records))
	}
	return d.records[n], nil
}

// Metadata resolves row n without decoding audio.
func (d *Dataset) Metadata(n int) (Sample, error) {
	rec, err := d.Record(n)
	if err != nil {
		return Sample{}, err
	}
	id, ok := d.matchID(rec.Path)
	if !ok {
		return Sample{}, fmt.Errorf("%w: row %d path %q does not match common_voice_%s_<digits>.mp3", ErrNotFound, n, rec.Path, d.language)
	}
	return Sample{
		Path:       filepath.Join(d.clipsDir, rec.Path),
		SampleRate: d.loader.SampleRate,
		Transcript: rec.Sentence,
		ID:         id,
		Speaker:    rec.ClientID,
	}, nil
}

// Load resolves row n and decodes its clip.
func (d *Dataset) Load(n int) (pcm.Waveform, Sample, error) {
	s, err := d.Metadata(n)
	if err != nil {
		return pcm.Waveform{}, Sample{}, err
	}
	w, err := d.loader.Load(s.Path)
	if err != nil {
		return pcm.Waveform{}, Sample{}, fmt.Errorf("corpus: load row %d: %w", n, err)
	}
	return w, s, nil
}

// MatchID extracts the digit run from common_voice_<language>_<digits>.mp3.
func MatchID(language, filename string) (string, bool) {
	return matchIDRe(idPattern(language), filename)
}

func (d *Dataset) matchID(filename string) (string, bool) {
	return matchIDRe(d.idRe, filename)
}

func matchIDRe(re *regexp.Regexp, filename string) (string, bool) {
	m := re.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func idPattern(language string) *regexp.Regexp {
	return regexp.MustCompile(`^common_voice_` + regexp.QuoteMeta(language) + `_(\d+)\.mp3$`)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
