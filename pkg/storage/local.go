package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local implements FileStore on top of the local filesystem.
// All paths are resolved relative to the configured root directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, which must exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: %s is not a directory", dir)
	}
	return &Local{root: abs}, nil
}

// resolve turns a storage path into an absolute filesystem path.
func (l *Local) resolve(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// Read opens the named file for reading.
func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(path))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat returns the size of the named file.
func (l *Local) Stat(_ context.Context, path string) (Info, error) {
	info, err := os.Stat(l.resolve(path))
	if err != nil {
		return Info{}, err
	}
	if info.IsDir() {
		return Info{}, fmt.Errorf("storage: %s is a directory", path)
	}
	return Info{Size: info.Size()}, nil
}

// Compile-time interface check.
var _ FileStore = (*Local)(nil)
