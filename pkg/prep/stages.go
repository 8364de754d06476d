package prep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haivivi/speechprep/pkg/audio"
	"github.com/haivivi/speechprep/pkg/audio/fbank"
	"github.com/haivivi/speechprep/pkg/corpus"
	"github.com/haivivi/speechprep/pkg/featzip"
	"github.com/haivivi/speechprep/pkg/manifest"
	"github.com/haivivi/speechprep/pkg/vocab"
)

// extractFeatures writes <scratch>/<id>.npy for every sample of every split.
func (p *pipeline) extractFeatures(ctx context.Context) error {
	scratch := p.path(FeatureDir)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return err
	}
	cfg := fbank.ForSampleRate(p.opts.SampleRate)
	cfg.NumMels = p.opts.NumMels
	ext, err := fbank.New(cfg)
	if err != nil {
		return err
	}

	for _, split := range p.opts.Splits {
		p.log.Info("fetching split", "split", split)
		ds, err := corpus.Open(p.opts.Root, p.opts.Language, split,
			append(p.opts.corpusOptions(true), corpus.WithContext(ctx))...)
		if err != nil {
			return err
		}
		p.log.Info("extracting log mel filter bank features", "split", split, "samples", ds.Len())

		var (
			mu    sync.Mutex
			stats = p.splitStats(split)
		)
		samples := p.opts.Metrics.Samples.WithLabelValues(string(split))
		err = forEach(ctx, ds.Len(), p.opts.Workers, func(_ context.Context, i int) error {
			w, s, err := ds.Load(i)
			if err != nil {
				return err
			}
			// Hours are reported against the source clip, not the
			// resampled waveform.
			dur, err := audio.Probe(s.Path)
			if err != nil {
				return fmt.Errorf("sample %s: %w", s.ID, err)
			}
			feats := ext.Extract(w.Samples)
			if p.opts.CMVN {
				fbank.CMVN(feats)
			}
			if err := writeFeatures(scratch, s.ID, feats, cfg.NumMels); err != nil {
				return fmt.Errorf("sample %s: %w", s.ID, err)
			}

			samples.Inc()
			p.opts.Metrics.Frames.Add(float64(feats.NumFrames()))
			p.opts.Metrics.ClipSeconds.Observe(dur.Seconds())
			mu.Lock()
			stats.Samples++
			stats.Frames += feats.NumFrames()
			stats.Audio += dur
			mu.Unlock()
			return nil
		})
		if err != nil {
			return fmt.Errorf("split %s: %w", split, err)
		}
	}
	return nil
}

// writeFeatures writes through a temporary file so that a sample listed in
// two splits never leaves a torn member behind.
func writeFeatures(dir, id string, f fbank.Features, cols int) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+id+"-*")
	if err != nil {
		return err
	}
	if err := fbank.WriteNPY(tmp, f, cols); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, id+featzip.Ext))
}

// packageFeatures zips the scratch directory and indexes the archive.
func (p *pipeline) packageFeatures(ctx context.Context) error {
	archive := p.path(ArchiveName)
	p.log.Info("zipping features", "archive", archive)
	n, err := featzip.Pack(p.path(FeatureDir), archive)
	if err != nil {
		return err
	}
	p.log.Info("fetching zip manifest", "members", n)
	if _, err := featzip.Index(ctx, archive, p.opts.Index); err != nil {
		return err
	}
	p.stats.Archive = archive
	p.stats.Members = n
	return nil
}

var lower = cases.Lower(language.Und)

// writeManifests emits <root>/<split>.tsv and collects training text.
func (p *pipeline) writeManifests(ctx context.Context) error {
	p.log.Info("generating manifest")
	for _, split := range p.opts.Splits {
		ds, err := corpus.Open(p.opts.Root, p.opts.Language, split, p.opts.corpusOptions(false)...)
		if err != nil {
			return err
		}
		rows := make([]manifest.Row, 0, ds.Len())
		for i := range ds.Len() {
			s, err := ds.Metadata(i)
			if err != nil {
				return err
			}
			e, err := featzip.Lookup(ctx, p.opts.Index, s.ID)
			if err != nil {
				return err
			}
			rows = append(rows, manifest.Row{
				ID:      s.ID,
				Audio:   e.Location(),
				Frames:  e.Frames,
				Text:    lower.String(s.Transcript),
				Speaker: s.Speaker,
			})
		}

		path := p.path(string(split) + ".tsv")
		if err := manifest.WriteFile(path, rows, p.opts.Speaker); err != nil {
			return err
		}
		p.splitStats(split).Manifest = path
		p.log.Debug("manifest written", "split", split, "rows", len(rows), "path", path)

		if split.IsTrain() {
			for _, r := range rows {
				p.trainText = append(p.trainText, r.Text)
			}
		}
	}
	return nil
}

// trainVocab writes the training text and trains the vocabulary on it.
func (p *pipeline) trainVocab(ctx context.Context) error {
	textPath := p.path(TrainTextName)
	var b strings.Builder
	for _, t := range p.trainText {
		b.WriteString(t)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(textPath, []byte(b.String()), 0o644); err != nil {
		return err
	}

	prefix := p.path(vocab.Prefix(p.opts.VocabType, p.opts.VocabSize))
	p.log.Info("training vocabulary", "type", p.opts.VocabType, "size", p.opts.VocabSize, "lines", len(p.trainText))
	err := p.opts.Trainer.Train(ctx, vocab.Options{
		Type:   p.opts.VocabType,
		Size:   p.opts.VocabSize,
		Input:  textPath,
		Prefix: prefix,
	})
	if err != nil {
		return err
	}
	p.stats.TrainText = textPath
	p.stats.Vocab = prefix + ".model"
	p.stats.Dict = prefix + ".txt"
	return nil
}

func (p *pipeline) writeConfig(context.Context) error {
	path := p.path(ConfigName)
	spm := vocab.Prefix(p.opts.VocabType, p.opts.VocabSize)
	// The config names a sentencepiece tokenizer, so the model must load as one.
	m, err := vocab.LoadModel(p.path(spm + ".model"))
	if err != nil {
		return fmt.Errorf("tokenizer model: %w", err)
	}
	if m.Type != p.opts.VocabType {
		return fmt.Errorf("tokenizer model: type %s, want %s", m.Type, p.opts.VocabType)
	}
	if err := WriteDataConfig(path, NewDataConfig(spm+".model", p.opts.NumMels, PolicyLD)); err != nil {
		return err
	}
	p.stats.Config = path
	return nil
}

func (p *pipeline) cleanup(context.Context) error {
	p.log.Debug("removing scratch features", "dir", p.path(FeatureDir))
	return os.RemoveAll(p.path(FeatureDir))
}

// forEach calls fn for 0..n-1 on up to workers goroutines. The first error
// cancels the remaining calls and is returned.
func forEach(ctx context.Context, n, workers int, fn func(context.Context, int) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
		sem   = make(chan struct{}, max(workers, 1))
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel(err)
		})
	}

loop:
	for i := range n {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		wg.Add(1)
		go func(i int) {
			defer func() { <-sem; wg.Done() }()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, i); err != nil {
				fail(err)
			}
		}(i)
	}
	wg.Wait()

	if first != nil {
		return first
	}
	return context.Cause(ctx)
}
