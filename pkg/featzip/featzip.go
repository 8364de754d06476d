// Package featzip packs per-utterance feature files into one uncompressed ZIP
// archive and indexes where each member's bytes live, so that training code
// can read a feature matrix with a single ranged read of the archive.
//
// Members are stored, not deflated, which makes a member addressable as
// "<archive>:<offset>:<length>".
package featzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/speechprep/pkg/audio/fbank"
	"github.com/haivivi/speechprep/pkg/kv"
)

// Ext is the member file extension.
const Ext = ".npy"

// ErrNotFound is returned by Lookup for unknown ids.
var ErrNotFound = errors.New("featzip: not found")

// indexPrefix is the kv namespace holding member entries.
var indexPrefix = kv.Key{"featzip"}

// Entry locates one member inside the archive.
type Entry struct {
	Archive string `msgpack:"archive"` // archive file name, without directory
	Offset  int64  `msgpack:"offset"`  // first byte of member data
	Length  int64  `msgpack:"length"`  // member data size
	Frames  int    `msgpack:"frames"`  // feature rows
}

// Location formats the entry as <archive>:<offset>:<length>.
func (e Entry) Location() string {
	return fmt.Sprintf("%s:%d:%d", e.Archive, e.Offset, e.Length)
}

// Pack writes every *.npy file of dir into a new archive at zipPath. Members
// are named by base name and written in sorted order, so identical inputs
// produce identical archives. It returns the number of members.
func Pack(dir, zipPath string) (int, error) {
	names, err := listMembers(dir)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("featzip: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, name := range names {
		if err := addMember(zw, filepath.Join(dir, name), name); err != nil {
			zw.Close()
			out.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return 0, fmt.Errorf("featzip: finish %s: %w", zipPath, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("featzip: %w", err)
	}
	return len(names), nil
}

func listMembers(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("featzip: %w", err)
	}
	var names []string
	for _, e := range ents {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Ext) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func addMember(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("featzip: %w", err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("featzip: add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("featzip: add %s: %w", name, err)
	}
	return nil
}

// Index scans the archive at zipPath and replaces the store's member index
// with one entry per member, keyed by the member's stem. Frame counts come
// from each member's .npy header. It returns the number of entries.
func Index(ctx context.Context, zipPath string, store kv.Store) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("featzip: open %s: %w", zipPath, err)
	}
	defer zr.Close()

	archive := filepath.Base(zipPath)
	entries := make([]kv.Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, Ext) {
			continue
		}
		if f.Method != zip.Store {
			return 0, fmt.Errorf("featzip: member %s is compressed", f.Name)
		}
		off, err := f.DataOffset()
		if err != nil {
			return 0, fmt.Errorf("featzip: %s: %w", f.Name, err)
		}
		frames, err := memberFrames(f)
		if err != nil {
			return 0, err
		}
		val, err := msgpack.Marshal(Entry{
			Archive: archive,
			Offset:  off,
			Length:  int64(f.UncompressedSize64),
			Frames:  frames,
		})
		if err != nil {
			return 0, fmt.Errorf("featzip: encode %s: %w", f.Name, err)
		}
		entries = append(entries, kv.Entry{Key: memberKey(strings.TrimSuffix(f.Name, Ext)), Value: val})
	}

	if err := clearIndex(ctx, store); err != nil {
		return 0, err
	}
	if err := store.BatchSet(ctx, entries); err != nil {
		return 0, fmt.Errorf("featzip: write index: %w", err)
	}
	return len(entries), nil
}

func memberFrames(f *zip.File) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("featzip: %s: %w", f.Name, err)
	}
	defer rc.Close()
	rows, _, err := fbank.ReadNPYShape(rc)
	if err != nil {
		return 0, fmt.Errorf("featzip: %s: %w", f.Name, err)
	}
	return rows, nil
}

func clearIndex(ctx context.Context, store kv.Store) error {
	var stale []kv.Key
	for e, err := range store.List(ctx, indexPrefix) {
		if err != nil {
			return fmt.Errorf("featzip: list index: %w", err)
		}
		stale = append(stale, e.Key)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := store.BatchDelete(ctx, stale); err != nil {
		return fmt.Errorf("featzip: clear index: %w", err)
	}
	return nil
}

func memberKey(stem string) kv.Key {
	return append(slices.Clone(indexPrefix), stem)
}

// Lookup returns the index entry for a member stem.
func Lookup(ctx context.Context, store kv.Store, stem string) (Entry, error) {
	val, err := store.Get(ctx, memberKey(stem))
	if errors.Is(err, kv.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, stem)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("featzip: lookup %s: %w", stem, err)
	}
	var e Entry
	if err := msgpack.Unmarshal(val, &e); err != nil {
		return Entry{}, fmt.Errorf("featzip: decode %s: %w", stem, err)
	}
	return e, nil
}

// ReadFeatures reads the member e points at from the archive in dir.
func ReadFeatures(dir string, e Entry) (fbank.Features, error) {
	f, err := os.Open(filepath.Join(dir, e.Archive))
	if err != nil {
		return nil, fmt.Errorf("featzip: %w", err)
	}
	defer f.Close()
	return fbank.ReadNPY(io.NewSectionReader(f, e.Offset, e.Length))
}
