// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package audit provides the BadgerDB-backed audit trail and the daily
// quota counters.
//
// BadgerDB gives low-latency embedded storage with no external service to
// operate, which fits the deployment model: one store per assistant
// instance, snapshotted by the host backup job.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/WizardJames69/FieldTek-sub002/services/assistant/datatypes"
)

// Key layout:
//
//	audit/<tenant>/<padded-unix-nanos>/<uuid>  -> AuditRecord JSON
//	quota/<tenant>/<yyyy-mm-dd>                -> decimal counter
//
// The padded timestamp keeps keys in chronological order under Badger's
// lexicographic iteration, so ListByTenant reads newest-first with a
// reverse iterator.
const (
	auditPrefix = "audit/"
	quotaPrefix = "quota/"
)

// Config holds configuration for the audit store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes. Audit records are
	// compliance data, so production keeps this on.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and a
// 5-minute GC cadence.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
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

// Store is the audit trail plus quota counters over one BadgerDB
// instance.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// the isolation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the store, creating the directory if needed, and starts the
// GC loop when configured. Caller must call Close() when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent audit store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("audit store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Write persists one audit record. Records are immutable: the key embeds
// a fresh UUID, nothing in this package (or the API surface above it)
// updates or deletes an audit key, and a duplicate key is treated as a
// write error rather than an overwrite.
func (s *Store) Write(ctx context.Context, record *datatypes.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if record.TenantID == "" {
		return errors.New("audit record requires a tenant id")
	}
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Timestamp = record.Timestamp.UTC()

	key := auditKey(record.TenantID, record.Timestamp, record.RecordID)
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if _, err := txn.Get(key); err == nil {
		return fmt.Errorf("audit record %s already exists", record.RecordID)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("check audit record: %w", err)
	}
	if err := txn.Set(key, value); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit audit record: %w", err)
	}
	return nil
}

// ListByTenant returns the tenant's audit records, newest first, up to
// limit. A limit of 0 means no cap.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, limit int) ([]datatypes.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	prefix := []byte(auditPrefix + tenantID + "/")
	var records []datatypes.AuditRecord

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// In reverse mode, seek to the end of the prefix range. 0xFF
		// sorts after any key byte this package writes.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record datatypes.AuditRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("read audit record: %w", err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// auditKey builds audit/<tenant>/<padded-nanos>/<uuid>. The zero-padded
// nanosecond timestamp keeps lexicographic and chronological order
// identical.
func auditKey(tenantID string, ts time.Time, recordID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", auditPrefix, tenantID, ts.UnixNano(), recordID))
}
