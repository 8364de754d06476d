// Package kv is a small key-value layer with segment-path keys. A Key such as
// {"featzip", "common_voice_en_1"} is stored as "featzip:common_voice_en_1".
//
// Two backends are provided: Badger for on-disk indexes that survive between
// runs, and Memory for tests and one-shot runs.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments in the encoded form.
const Separator byte = ':'

// Key is a hierarchical path. Segments must not contain Separator.
type Key []string

// String returns the encoded form of k.
func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is the interface implemented by all backends.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// List iterates over all entries below prefix in lexicographic key order.
	// An empty prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys. Missing keys are ignored.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases any resources held by the store.
	Close() error
}

// Open returns a Badger store in dir, or a Memory store when dir is empty.
func Open(dir string) (Store, error) {
	if dir == "" {
		return NewMemory(), nil
	}
	return NewBadger(BadgerOptions{Dir: dir})
}

func encode(k Key) []byte {
	return []byte(k.String())
}

func decode(b []byte) Key {
	parts := bytes.Split(b, []byte{Separator})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// scanPrefix returns the byte prefix for listing below k. A trailing
// separator keeps "a:b" from matching "a:bc".
func scanPrefix(k Key) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(encode(k), Separator)
}
