// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEvolve/pkg/validation"
)

// ErrNotFound is returned when no archived record has the requested id.
var ErrNotFound = errors.New("knowledge: record not found")

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// maxTitleSlug bounds the sanitized title segment of a record filename.
	maxTitleSlug = 40
)

// Embedder is the vector backend subset the archive needs. The inference
// service satisfies it; tests substitute a stub.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config configures a Store.
type Config struct {
	// Dir is the archive directory. Created if missing.
	Dir string

	// Embedder computes record and query embeddings. Nil disables vector
	// recall; records are still persisted and found by substring match.
	Embedder Embedder

	// EpsilonThreshold scales the adaptive eligibility radius during
	// search. Zero or negative means 1.0.
	EpsilonThreshold float64

	// Mirror replicates writes into Weaviate when non-nil. The files stay
	// the source of truth; mirror failures are logged and ignored.
	Mirror *Mirror

	// Watch starts a directory watcher that refreshes the index when
	// another process adds record files.
	Watch bool

	Logger *slog.Logger
}

// Store is a file-per-record JSON archive of cross-run experience. Every
// record lives in its own file under Dir, named
//
//	<timestamp>_<type>_<safe_title>_<shortid>.json
//
// so the archive stays greppable and survives without any index. An
// in-memory index mirrors the directory for search; it is rebuilt on
// demand and by the optional watcher.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	dir       string
	embedder  Embedder
	threshold float64
	mirror    *Mirror
	logger    *slog.Logger

	mu     sync.RWMutex
	byPath map[string]Record

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New opens the archive at cfg.Dir, indexing any records already present.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("knowledge: archive directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	threshold := cfg.EpsilonThreshold
	if threshold <= 0 {
		threshold = 1.0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:       cfg.Dir,
		embedder:  cfg.Embedder,
		threshold: threshold,
		mirror:    cfg.Mirror,
		logger:    logger,
		byPath:    make(map[string]Record),
		done:      make(chan struct{}),
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	if cfg.Watch {
		if err := s.startWatcher(); err != nil {
			return nil, fmt.Errorf("start archive watcher: %w", err)
		}
	}
	return s, nil
}

// WriteExperience archives a generalisable lesson, pattern, or insight.
// Missing fields are defaulted and the record is embedded best-effort: an
// embedding failure never blocks persistence.
func (s *Store) WriteExperience(ctx context.Context, rec Record) error {
	rec.normalize()
	return s.write(ctx, rec)
}

// WriteStrategyArchive archives a strategy folded into the report during
// synthesis. The type is forced to branch_archive regardless of what the
// caller set.
func (s *Store) WriteStrategyArchive(ctx context.Context, rec Record) error {
	rec.Type = TypeBranchArchive
	rec.normalize()
	return s.write(ctx, rec)
}

func (s *Store) write(ctx context.Context, rec Record) error {
	ctx, span := tracer.Start(ctx, "knowledge.Write",
		trace.WithAttributes(attribute.String("record.type", string(rec.Type))))
	defer span.End()

	if len(rec.Embedding) == 0 && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, rec.text())
		if err != nil {
			s.logger.Warn("record embedding failed, persisting without vector",
				"title", rec.Title,
				"error", err)
		} else {
			rec.Embedding = vec
		}
	}

	path := filepath.Join(s.dir, s.filename(rec))
	if err := writeRecord(path, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}

	s.mu.Lock()
	s.byPath[path] = rec
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, rec); err != nil {
			s.logger.Warn("weaviate mirror write failed",
				"title", rec.Title,
				"error", err)
		}
	}

	s.logger.Debug("archived record",
		"type", rec.Type,
		"title", rec.Title,
		"embedded", len(rec.Embedding) > 0)
	return nil
}

// filename builds <timestamp>_<type>_<safe_title>_<shortid>.json. The uuid
// suffix keeps same-second writes of the same title from colliding.
func (s *Store) filename(rec Record) string {
	stamp := rec.CreatedAt.UTC().Format("20060102T150405")
	title := validation.SanitizeTitle(rec.Title, maxTitleSlug)
	short := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s_%s_%s.json", stamp, rec.Type, title, short)
}

// writeRecord persists a record to a fresh path. New filenames are unique,
// so a plain write is safe; in-place rewrites go through rewriteRecord.
func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, filePerm)
}

// rewriteRecord atomically replaces an existing record file (tmp + rename).
// Used when a search backfills an embedding.
func rewriteRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.byPath {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

// All returns every archived record, newest first.
func (s *Store) All() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.byPath))
	for _, rec := range s.byPath {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPath)
}

// refresh rebuilds the in-memory index from the archive directory.
// Unreadable or partial files are skipped so one bad record cannot hide
// the rest.
func (s *Store) refresh() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan archive dir: %w", err)
	}

	byPath := make(map[string]Record, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "path", path, "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping malformed record", "path", path, "error", err)
			continue
		}
		byPath[path] = rec
	}

	s.mu.Lock()
	s.byPath = byPath
	s.mu.Unlock()
	return nil
}

// Close stops the directory watcher. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
