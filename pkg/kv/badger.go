package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger warnings and errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewBadger opens a BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("kv: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := bopts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogAdapter{logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger %s: %w", bopts.Dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key Key) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encode(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key Key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encode(key), value)
	})
}

func (b *Badger) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := scanPrefix(prefix)
	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = p
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}
				if !yield(Entry{Key: decode(item.KeyCopy(nil)), Value: val}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) BatchSet(_ context.Context, entries []Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(encode(e.Key), e.Value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) BatchDelete(_ context.Context, keys []Key) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(encode(key)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// slogAdapter routes badger's printf-style logging into slog. Info and debug
// chatter is dropped.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(f string, v ...any)   { a.l.Error(fmt.Sprintf(f, v...)) }
func (a slogAdapter) Warningf(f string, v ...any) { a.l.Warn(fmt.Sprintf(f, v...)) }
func (slogAdapter) Infof(string, ...any)          {}
func (slogAdapter) Debugf(string, ...any)         {}
