// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists finished runs in an embedded BadgerDB: final
// state snapshot, final report, status, and timestamps, keyed by run id.
// The supervisor writes a record on every terminal event; the CLI and the
// HTTP surface read them back.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no run with the requested id is archived.
var ErrNotFound = errors.New("archive: run not found")

// Key layout. The data key holds the record; the time key orders runs by
// start time so List can walk newest-first without a full scan.
const (
	dataPrefix = "r:"
	timePrefix = "t:"
)

// Record is one archived run.
type Record struct {
	RunID         string          `json:"run_id"`
	Problem       string          `json:"problem"`
	Status        string          `json:"status"`
	FinalReport   string          `json:"final_report,omitempty"`
	ReportVersion int             `json:"report_version"`
	Iterations    int             `json:"iterations"`
	State         json.RawMessage `json:"state,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       time.Time       `json:"ended_at"`
}

// Config holds configuration for the archive database.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file.
	GCDiscardRatio float64

	// Exporter uploads terminal records to GCS when set. Export failures
	// are logged and never fail the Put.
	Exporter *Exporter

	// Logger receives archive and BadgerDB log output. Nil disables
	// BadgerDB's internal logging.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes and a
// five-minute GC cycle.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
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

// Store is the run archive.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db       *badger.DB
	exporter *Exporter
	logger   *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	gcRatio    float64
	gcInterval time.Duration
}

// Open opens the archive described by cfg, creating the directory when it
// does not exist, and starts the GC loop when one is configured.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("archive: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:         db,
		exporter:   cfg.Exporter,
		logger:     logger,
		gcRatio:    cfg.GCDiscardRatio,
		gcInterval: cfg.GCInterval,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.gcLoop()
	}
	return s, nil
}

// Put archives one run. Re-archiving the same run id overwrites the
// previous record. When an exporter is configured the record is also
// uploaded; an upload failure is logged, never returned.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("archive: record needs a run id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(rec.RunID), data); err != nil {
			return err
		}
		return txn.Set(timeKey(rec.StartedAt, rec.RunID), []byte(rec.RunID))
	})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", rec.RunID, err)
	}

	s.logger.Info("run archived",
		"run_id", rec.RunID,
		"status", rec.Status,
		"iterations", rec.Iterations,
	)

	if s.exporter != nil {
		if err := s.exporter.Export(ctx, rec); err != nil {
			s.logger.Warn("gcs export failed",
				"run_id", rec.RunID,
				"error", err,
			)
		}
	}
	return nil
}

// Get returns the archived run with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns up to limit archived runs, newest start first. A non-positive
// limit means no cap.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	seen := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last time key.
		prefix := []byte(timePrefix)
		seekKey := append([]byte(timePrefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(records) == limit {
				break
			}

			var runID string
			if err := it.Item().Value(func(val []byte) error {
				runID = string(val)
				return nil
			}); err != nil {
				return err
			}
			if seen[runID] {
				continue
			}
			seen[runID] = true

			item, err := txn.Get(dataKey(runID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Dangling time key; skip rather than fail the listing.
				s.logger.Warn("archive time index points at a missing run", "run_id", runID)
				continue
			}
			if err != nil {
				return err
			}
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// Close stops the GC loop and closes the database. The GCS exporter is
// owned by the caller and stays open.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

func (s *Store) gcLoop() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there was nothing
			// worth collecting.
			err := s.db.RunValueLogGC(s.gcRatio)
			if err == nil {
				s.logger.Debug("archive value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("archive value log GC error", "error", err)
			}
		}
	}
}

func dataKey(runID string) []byte {
	return []byte(dataPrefix + runID)
}

// timeKey is sortable by start time: zero-padded unix nanoseconds keep
// lexicographic and chronological order aligned.
func timeKey(startedAt time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", timePrefix, startedAt.UnixNano(), runID))
}
