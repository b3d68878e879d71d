// Package badgerstore persists speaker profiles in an embedded BadgerDB.
//
// Each profile is a msgpack record under "speaker/<key>". Records carry an
// insertion sequence so Load can restore registry order, which Badger's
// lexicographic key order would otherwise lose.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

var _ speaker.Backend = (*Backend)(nil)

var prefix = []byte("speaker/")

// record is the on-disk shape of a profile.
type record struct {
	Seq       uint64    `msgpack:"seq"`
	ID        string    `msgpack:"id"`
	Name      string    `msgpack:"name"`
	Embedding []float32 `msgpack:"embedding"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// Options configures a Badger backend.
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Intended for tests.
	InMemory bool

	// Logger receives Badger's internal log lines. Default: slog.Default().
	Logger *slog.Logger
}

// Backend stores profiles in BadgerDB.
type Backend struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (or creates) the database.
func Open(opts Options) (*Backend, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required for on-disk mode")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogAdapter{l: opts.Logger.With("component", "badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	seq, err := db.GetSequence([]byte("meta/seq"), 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &Backend{db: db, seq: seq}, nil
}

// Load returns every profile ordered by insertion sequence.
func (b *Backend) Load(_ context.Context) ([]speaker.Profile, error) {
	var recs []record
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r record
			if err := msgpack.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			recs = append(recs, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: load: %w", err)
	}

	slices.SortFunc(recs, func(a, b record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	out := make([]speaker.Profile, len(recs))
	for i, r := range recs {
		out[i] = speaker.Profile{ID: r.ID, Name: r.Name, Embedding: r.Embedding, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// Save upserts p. An existing record keeps its sequence number.
func (b *Backend) Save(_ context.Context, p speaker.Profile) error {
	key := keyFor(speaker.Key(p.Name))
	err := b.db.Update(func(txn *badger.Txn) error {
		r := record{ID: p.ID, Name: p.Name, Embedding: p.Embedding, CreatedAt: p.CreatedAt}

		item, err := txn.Get(key)
		switch {
		case err == nil:
			var old record
			if err := item.Value(func(v []byte) error { return msgpack.Unmarshal(v, &old) }); err != nil {
				return err
			}
			r.Seq = old.Seq
		case errors.Is(err, badger.ErrKeyNotFound):
			seq, err := b.seq.Next()
			if err != nil {
				return err
			}
			r.Seq = seq
		default:
			return err
		}

		val, err := msgpack.Marshal(&r)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: save %q: %w", p.Name, err)
	}
	return nil
}

// Delete removes the record for key.
func (b *Backend) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFor(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badgerstore: delete %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the database is open.
func (b *Backend) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badgerstore: database closed")
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (b *Backend) Close() error {
	return errors.Join(b.seq.Release(), b.db.Close())
}

func keyFor(key string) []byte {
	return append(slices.Clone(prefix), key...)
}

// slogAdapter routes Badger's printf-style logger into slog. Badger is
// chatty at info level, so its info lines go to debug.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Errorf(f string, args ...any)   { a.l.Error(trim(fmt.Sprintf(f, args...))) }
func (a slogAdapter) Warningf(f string, args ...any) { a.l.Warn(trim(fmt.Sprintf(f, args...))) }
func (a slogAdapter) Infof(f string, args ...any)    { a.l.Debug(trim(fmt.Sprintf(f, args...))) }
func (a slogAdapter) Debugf(f string, args ...any)   { a.l.Debug(trim(fmt.Sprintf(f, args...))) }

func trim(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
