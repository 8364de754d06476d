package featzip

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haivivi/speechprep/pkg/audio/fbank"
	"github.com/haivivi/speechprep/pkg/kv"
)

func writeFeatures(t *testing.T, dir, stem string, frames int) fbank.Features {
	t.Helper()
	f := make(fbank.Features, frames)
	for i := range f {
		row := make([]float32, 4)
		for j := range row {
			row[j] = float32(i*10 + j)
		}
		f[i] = row
	}
	var buf bytes.Buffer
	if err := fbank.WriteNPY(&buf, f, 4); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, stem+Ext), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPackIndexLookup(t *testing.T) {
	ctx := context.Background()
	scratch := t.TempDir()
	out := t.TempDir()
	want := map[string]fbank.Features{
		"2":  writeFeatures(t, scratch, "2", 3),
		"1":  writeFeatures(t, scratch, "1", 5),
		"10": writeFeatures(t, scratch, "10", 0),
	}
	if err := os.WriteFile(filepath.Join(scratch, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(out, "fbank80.zip")
	n, err := Pack(scratch, zipPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Pack = %d members, want 3", n)
	}

	store := kv.NewMemory()
	n, err = Index(ctx, zipPath, store)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Index = %d entries, want 3", n)
	}

	for stem, feats := range want {
		e, err := Lookup(ctx, store, stem)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", stem, err)
		}
		if e.Archive != "fbank80.zip" || e.Frames != len(feats) {
			t.Fatalf("Lookup(%s) = %+v, want %d frames in fbank80.zip", stem, e, len(feats))
		}
		got, err := ReadFeatures(out, e)
		if err != nil {
			t.Fatalf("ReadFeatures(%s): %v", stem, err)
		}
		if len(got) != len(feats) {
			t.Fatalf("ReadFeatures(%s) = %d rows, want %d", stem, len(got), len(feats))
		}
		for i := range got {
			for j := range got[i] {
				if got[i][j] != feats[i][j] {
					t.Fatalf("%s[%d][%d] = %v, want %v", stem, i, j, got[i][j], feats[i][j])
				}
			}
		}
	}

	if _, err := Lookup(ctx, store, "99"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(99) = %v, want ErrNotFound", err)
	}
}

func TestLocationFormat(t *testing.T) {
	e := Entry{Archive: "fbank80.zip", Offset: 41, Length: 1152}
	if got := e.Location(); got != "fbank80.zip:41:1152" {
		t.Fatalf("Location = %q", got)
	}
}

func TestPackIsDeterministic(t *testing.T) {
	scratch := t.TempDir()
	writeFeatures(t, scratch, "1", 2)
	writeFeatures(t, scratch, "2", 7)

	a := filepath.Join(t.TempDir(), "a.zip")
	b := filepath.Join(t.TempDir(), "b.zip")
	if _, err := Pack(scratch, a); err != nil {
		t.Fatal(err)
	}
	if _, err := Pack(scratch, b); err != nil {
		t.Fatal(err)
	}
	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if !bytes.Equal(da, db) {
		t.Fatal("archives differ between identical packs")
	}
}

func TestIndexReplacesStaleEntries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	first := t.TempDir()
	writeFeatures(t, first, "old", 1)
	zipPath := filepath.Join(t.TempDir(), "fbank80.zip")
	if _, err := Pack(first, zipPath); err != nil {
		t.Fatal(err)
	}
	if _, err := Index(ctx, zipPath, store); err != nil {
		t.Fatal(err)
	}

	second := t.TempDir()
	writeFeatures(t, second, "new", 1)
	if _, err := Pack(second, zipPath); err != nil {
		t.Fatal(err)
	}
	if _, err := Index(ctx, zipPath, store); err != nil {
		t.Fatal(err)
	}

	if _, err := Lookup(ctx, store, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale entry survived: %v", err)
	}
	if _, err := Lookup(ctx, store, "new"); err != nil {
		t.Fatal(err)
	}
}

func TestPackMissingDir(t *testing.T) {
	if _, err := Pack(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "x.zip")); err == nil {
		t.Fatal("expected error")
	}
}
