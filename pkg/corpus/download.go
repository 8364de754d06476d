package corpus

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/haivivi/speechprep/pkg/storage"
)

// Downloader fetches a release folder for one language into root.
type Downloader interface {
	Download(ctx context.Context, root, folder, language string) error
}

// StoreDownloader extracts <folder>-<language>.tar.gz from a FileStore.
// The archive is expected to contain paths starting with <folder>/.
type StoreDownloader struct {
	Store storage.FileStore

	// Retries bounds the number of extra attempts after a failed read.
	Retries uint64
}

// ArchiveName returns the mirror object name for a release folder.
func ArchiveName(folder, language string) string {
	return folder + "-" + language + ".tar.gz"
}

// Download implements Downloader.
func (d *StoreDownloader) Download(ctx context.Context, root, folder, language string) error {
	name := ArchiveName(folder, language)
	log := slog.With("archive", name, "root", root)

	info, err := d.Store.Stat(ctx, name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("corpus: mirror has no %s: %w", name, err)
	case err != nil:
		// Read retries on its own; a failed Stat only costs the size.
		log.Warn("stat archive", "err", err)
	default:
		log = log.With("size", info.Size)
	}
	log.Info("downloading corpus")

	attempt := 0
	op := func() error {
		attempt++
		err := d.fetch(ctx, name, root)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, os.ErrNotExist), errors.Is(err, errUnsafePath):
			return backoff.Permanent(err)
		}
		log.Warn("download attempt failed", "attempt", attempt, "err", err)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.Retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return err
	}
	log.Info("corpus extracted", "attempts", attempt)
	return nil
}

func (d *StoreDownloader) fetch(ctx context.Context, name, root string) error {
	rc, err := d.Store.Read(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("gzip %s: %w", name, err)
	}
	defer zr.Close()
	return extractTar(zr, root)
}

var errUnsafePath = errors.New("corpus: archive entry escapes destination")

// extractTar writes regular files and directories of a tar stream under dst.
// Other entry types are skipped.
func extractTar(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", errUnsafePath, hdr.Name)
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func safeJoin(dst, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	target := filepath.Join(dst, filepath.FromSlash(name))
	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
