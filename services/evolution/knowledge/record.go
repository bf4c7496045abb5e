// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge implements the cross-run experience archive: one JSON
// file per record under the knowledge_base directory, embedded for
// ε-thresholded recall, with an optional Weaviate mirror.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// RecordType classifies an archived experience.
type RecordType string

const (
	// TypeLessonLearned is a generalisable lesson from a run.
	TypeLessonLearned RecordType = "lesson_learned"

	// TypeSuccessPattern is an approach that worked and may transfer.
	TypeSuccessPattern RecordType = "success_pattern"

	// TypeBranchingHeuristic is guidance on when to split a strategy.
	TypeBranchingHeuristic RecordType = "branching_heuristic"

	// TypeMetaInsight is an observation about the search process itself.
	TypeMetaInsight RecordType = "meta_insight"

	// TypeBranchArchive records a strategy folded into a report. Written
	// only on the synthesis hard-prune path.
	TypeBranchArchive RecordType = "branch_archive"
)

// Valid reports whether t is a recognized record type.
func (t RecordType) Valid() bool {
	switch t {
	case TypeLessonLearned, TypeSuccessPattern, TypeBranchingHeuristic,
		TypeMetaInsight, TypeBranchArchive:
		return true
	default:
		return false
	}
}

// Record is one archived experience. Embedding is optional; records written
// while the embedding backend was down are lazily migrated during search.
type Record struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Type      RecordType        `json:"type"`
	Tags      []string          `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float64         `json:"embedding,omitempty"`
}

// normalize fills defaults: fresh id, UTC timestamp, lesson_learned when the
// type is missing or unknown.
func (r *Record) normalize() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if !r.Type.Valid() {
		r.Type = TypeLessonLearned
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
}

// text returns the string embedded for recall: title plus content.
func (r *Record) text() string {
	return r.Title + "\n" + r.Content
}
