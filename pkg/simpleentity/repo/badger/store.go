// Package badger keeps entity versions and audit records in an embedded
// BadgerDB. Keys are laid out so that a prefix scan returns versions by
// number and audit records by timestamp.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode, mostly for tests.
	InMemory bool

	SyncWrites bool

	// Logger receives BadgerDB's own log output. Nil disables it.
	Logger *slog.Logger
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements simpleentity.VersionStore and simpleentity.AuditStore
type Store struct {
	db *badger.DB
}

// Open opens the database described by cfg
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func versionPrefix(entityID string) []byte {
	return []byte("v/" + entityID + "/")
}

func versionKey(entityID string, number int) []byte {
	return fmt.Appendf(versionPrefix(entityID), "%010d", number)
}

func auditPrefix(entityID string) []byte {
	return []byte("a/" + entityID + "/")
}

func auditKey(rec *simpleentity.AuditRecord) []byte {
	return fmt.Appendf(auditPrefix(rec.EntityID), "%020d/%s", rec.Timestamp.UnixNano(), rec.ID)
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", simpleentity.ErrIO, op, err)
}

// scan calls fn with the value of every key under prefix, in key order
func (s *Store) scan(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropPrefix deletes every key under prefix
func (s *Store) dropPrefix(prefix []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Version operations

func (s *Store) AddOldVersion(ctx context.Context, v *simpleentity.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version %s/%d: %w", v.EntityID, v.Number, err)
	}
	key := versionKey(v.EntityID, v.Number)

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("version %d of entity %s %w", v.Number, v.EntityID, simpleentity.ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, simpleentity.ErrAlreadyExists) {
		return err
	}
	if err != nil {
		return ioErr("add version", err)
	}
	return nil
}

func (s *Store) GetOldVersion(ctx context.Context, entityID string, number int) (*simpleentity.Version, error) {
	var v simpleentity.Version
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey(entityID, number))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%d", simpleentity.ErrVersionNotFound, entityID, number)
	}
	if err != nil {
		return nil, ioErr("get version", err)
	}
	return &v, nil
}

func (s *Store) GetOldVersions(ctx context.Context, entityID string) ([]*simpleentity.Version, error) {
	versions := []*simpleentity.Version{}
	err := s.scan(versionPrefix(entityID), func(val []byte) error {
		var v simpleentity.Version
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		versions = append(versions, &v)
		return nil
	})
	if err != nil {
		return nil, ioErr("list versions", err)
	}
	return versions, nil
}

func (s *Store) DeleteOldVersions(ctx context.Context, entityID string) error {
	if err := s.dropPrefix(versionPrefix(entityID)); err != nil {
		return ioErr("delete versions", err)
	}
	return nil
}

// Audit operations

func (s *Store) CreateAuditRecord(ctx context.Context, rec *simpleentity.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(rec), data)
	})
	if err != nil {
		return ioErr("create audit record", err)
	}
	return nil
}

func (s *Store) RetrieveAuditRecords(ctx context.Context, entityID string, offset, count int) ([]*simpleentity.AuditRecord, error) {
	records := []*simpleentity.AuditRecord{}
	i := 0
	err := s.scan(auditPrefix(entityID), func(val []byte) error {
		defer func() { i++ }()
		if i < offset || len(records) >= count {
			return nil
		}
		var rec simpleentity.AuditRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, ioErr("retrieve audit records", err)
	}
	return records, nil
}

func (s *Store) DeleteAuditRecords(ctx context.Context, entityID string) error {
	if err := s.dropPrefix(auditPrefix(entityID)); err != nil {
		return ioErr("delete audit records", err)
	}
	return nil
}
