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
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/mathx"
)

const (
	// defaultEpsilon is the eligibility radius used when no population is
	// supplied. Raw Euclidean distances run large in the high-dimensional
	// embedding spaces this archive holds.
	defaultEpsilon = 10.0

	defaultSearchLimit = 5

	// snippetRunes bounds Entry.Content.
	snippetRunes = 300
)

// Query selects archived records by vector proximity, degrading to a
// substring match when no query embedding can be produced.
type Query struct {
	// Text is embedded for vector recall and matched verbatim by the
	// substring fallback.
	Text string

	// Type restricts results to one record type when set.
	Type RecordType

	// Limit caps the result count. Zero means defaultSearchLimit.
	Limit int

	// Population supplies the current strategy embeddings; the adaptive
	// bandwidth over them sets the eligibility radius. Empty falls back
	// to defaultEpsilon.
	Population [][]float64

	// Embedding short-circuits query embedding when the caller already
	// holds a vector for Text.
	Embedding []float64
}

// Entry is one search hit. Content is a snippet, not the full record.
type Entry struct {
	Title    string     `json:"title"`
	Type     RecordType `json:"type"`
	Content  string     `json:"content"`
	Tags     []string   `json:"tags"`
	Distance float64    `json:"distance"`
	Score    float64    `json:"score"`
}

// Search returns up to Limit records relevant to the query, closest first.
//
// Recall is ε-thresholded: a record is eligible only when its Euclidean
// distance to the query embedding is below threshold·ε, where ε adapts to
// the spread of the supplied population. Records written while the
// embedding backend was down are embedded and rewritten on the way
// through. When the mirror is configured it is tried first; any mirror
// error falls back to the local scan.
func (s *Store) Search(ctx context.Context, q Query) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Search",
		trace.WithAttributes(attribute.String("query.type", string(q.Type))))
	defer span.End()
	start := time.Now()
	defer func() {
		if h := searchInstrument(); h != nil {
			h.Record(ctx, time.Since(start).Seconds())
		}
	}()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec := q.Embedding
	if len(vec) == 0 && s.embedder != nil && strings.TrimSpace(q.Text) != "" {
		embedded, err := s.embedder.Embed(ctx, q.Text)
		if err != nil {
			s.logger.Warn("query embedding failed, using substring match", "error", err)
		} else {
			vec = embedded
		}
	}
	if len(vec) == 0 {
		return s.substringSearch(q.Text, q.Type, limit), nil
	}

	if s.mirror != nil {
		entries, err := s.mirror.Search(ctx, vec, q.Type, limit)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("weaviate mirror search failed, scanning local archive", "error", err)
	}
	return s.vectorSearch(ctx, vec, q, limit)
}

type scoredRecord struct {
	rec  Record
	dist float64
}

func (s *Store) vectorSearch(ctx context.Context, vec []float64, q Query, limit int) ([]Entry, error) {
	cutoff := s.threshold * epsilon(q.Population)

	s.mu.RLock()
	paths := make([]string, 0, len(s.byPath))
	records := make([]Record, 0, len(s.byPath))
	for path, rec := range s.byPath {
		paths = append(paths, path)
		records = append(records, rec)
	}
	s.mu.RUnlock()

	candidates := make([]scoredRecord, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		if len(rec.Embedding) == 0 {
			migrated, ok := s.migrate(ctx, paths[i], rec)
			if !ok {
				continue
			}
			rec = migrated
		}
		dist, ok := euclidean(vec, rec.Embedding)
		if !ok {
			s.logger.Debug("embedding dimension mismatch, skipping record",
				"title", rec.Title,
				"record_dims", len(rec.Embedding),
				"query_dims", len(vec))
			continue
		}
		if dist >= cutoff {
			continue
		}
		candidates = append(candidates, scoredRecord{rec: rec, dist: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist == candidates[j].dist {
			return candidates[i].rec.Title < candidates[j].rec.Title
		}
		return candidates[i].dist < candidates[j].dist
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	entries := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, newEntry(c.rec, c.dist))
	}
	return entries, nil
}

// epsilon derives the eligibility radius from the population spread. Fewer
// than two points have no pairwise spread, so the high-dimensional default
// applies.
func epsilon(population [][]float64) float64 {
	if len(population) < 2 {
		return defaultEpsilon
	}
	return mathx.AdaptiveBandwidth(mathx.PairwiseDistSq(population))
}

// migrate backfills a missing embedding and rewrites the record file in
// place. The in-memory index is only updated when the rewrite lands, so
// the index never claims a vector the file does not hold.
func (s *Store) migrate(ctx context.Context, path string, rec Record) (Record, bool) {
	if s.embedder == nil {
		return rec, false
	}
	vec, err := s.embedder.Embed(ctx, rec.text())
	if err != nil {
		s.logger.Warn("lazy embedding migration failed",
			"title", rec.Title,
			"error", err)
		return rec, false
	}
	rec.Embedding = vec

	if err := rewriteRecord(path, rec); err != nil {
		s.logger.Warn("persisting migrated record failed", "path", path, "error", err)
	} else {
		s.mu.Lock()
		s.byPath[path] = rec
		s.mu.Unlock()
		s.logger.Debug("migrated record embedding", "title", rec.Title)
	}
	return rec, true
}

// substringSearch is the no-vector fallback: case-insensitive match over
// title, content, and tags, newest first. There is no distance to rank
// by, so every match scores 1.0. An empty needle matches everything,
// which gives browse semantics to an empty query.
func (s *Store) substringSearch(text string, recordType RecordType, limit int) []Entry {
	needle := strings.ToLower(strings.TrimSpace(text))

	entries := make([]Entry, 0, limit)
	for _, rec := range s.All() {
		if recordType != "" && rec.Type != recordType {
			continue
		}
		if needle != "" && !recordMatches(rec, needle) {
			continue
		}
		entries = append(entries, newEntry(rec, 0))
		if len(entries) == limit {
			break
		}
	}
	return entries
}

func recordMatches(rec Record, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Title), needle) ||
		strings.Contains(strings.ToLower(rec.Content), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func newEntry(rec Record, dist float64) Entry {
	return Entry{
		Title:    rec.Title,
		Type:     rec.Type,
		Content:  truncateRunes(rec.Content, snippetRunes),
		Tags:     rec.Tags,
		Distance: dist,
		Score:    1 / (1 + dist),
	}
}

// euclidean returns the distance between equal-length vectors; ok is false
// on a dimension mismatch.
func euclidean(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), true
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
