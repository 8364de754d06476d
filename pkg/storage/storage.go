// Package storage defines the FileStore interface for reading corpus
// archives from a mirror. It abstracts the backend so the downloader can pull
// from a local directory or an S3-compatible bucket without changing code.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Info describes a stored object.
type Info struct {
	Size int64
}

// FileStore is a minimal read-only interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns the named file's metadata.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Stat(ctx context.Context, path string) (Info, error)
}

// S3Config holds connection settings for s3:// sources.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Open returns the FileStore for source. Sources of the form
// s3://bucket/prefix use S3; anything else is a local directory.
func Open(source string, cfg S3Config) (FileStore, error) {
	rest, ok := strings.CutPrefix(source, "s3://")
	if !ok {
		return NewLocal(source)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("storage: missing bucket in %q", source)
	}
	return NewS3(newS3Client(cfg), bucket, strings.Trim(prefix, "/")), nil
}
