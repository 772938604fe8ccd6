package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend keeps cache records in an embedded BadgerDB.
// A batch is written in a single read-write transaction.
type BadgerBackend struct {
	db   *badger.DB
	path string
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerBackend opens a BadgerDB directory. An empty path opens an
// in-memory database.
func NewBadgerBackend(path string, logger *slog.Logger) (*BadgerBackend, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	abs := path
	if path != "" {
		if p, err := filepath.Abs(path); err == nil {
			abs = p
		}
	}
	return &BadgerBackend{db: db, path: abs}, nil
}

func (b *BadgerBackend) Name() string { return "badger" }

func (b *BadgerBackend) Lockspace() string {
	if b.path == "" {
		return fmt.Sprintf("badger-mem:%p", b)
	}
	return "badger:" + b.path
}

func (b *BadgerBackend) Close() error { return b.db.Close() }

// Values are laid out as uvarint(len(version)) version updatedAt(8) payload.
func marshalBadgerValue(r Record) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(r.Version)+8+len(r.Payload))
	buf = binary.AppendUvarint(buf, uint64(len(r.Version)))
	buf = append(buf, r.Version...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.UpdatedAt))
	return append(buf, r.Payload...)
}

func unmarshalBadgerValue(key string, val []byte) (Record, error) {
	n, w := binary.Uvarint(val)
	if w <= 0 || uint64(len(val)-w) < n+8 {
		return Record{}, fmt.Errorf("%w: badger value for %s", ErrCorrupt, key)
	}
	rest := val[w:]
	r := Record{Key: key, Version: string(rest[:n])}
	rest = rest[n:]
	r.UpdatedAt = int64(binary.BigEndian.Uint64(rest[:8]))
	r.Payload = append([]byte(nil), rest[8:]...)
	return r, nil
}

func (b *BadgerBackend) Load(_ context.Context, key string) (Record, bool, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = unmarshalBadgerValue(key, val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (b *BadgerBackend) StoreBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := txn.Set([]byte(r.Key), marshalBadgerValue(r)); err != nil {
				return fmt.Errorf("set %s: %w", r.Key, err)
			}
		}
		return nil
	})
}

func (b *BadgerBackend) Delete(_ context.Context, keys ...string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBackend) Clear(_ context.Context) error {
	return b.db.DropAll()
}

func (b *BadgerBackend) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}
