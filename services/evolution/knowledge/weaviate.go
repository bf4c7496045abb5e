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
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// mirrorClass is the Weaviate class holding mirrored records.
const mirrorClass = "KnowledgeRecord"

// Mirror replicates archive records into a Weaviate instance for fast
// nearVector recall. The mirror is advisory: a write or search that fails
// falls back to the local files, which remain the source of truth.
type Mirror struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewMirror connects to the Weaviate instance at rawURL, e.g.
// http://localhost:8080. The connection is lazy; a wrong address surfaces
// on first use, not here.
func NewMirror(rawURL string, logger *slog.Logger) (*Mirror, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("weaviate url %q needs a scheme and host", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, logger: logger}, nil
}

// EnsureSchema creates the KnowledgeRecord class when the instance does
// not have it yet. Vectorizer is "none": vectors always come from the
// archive, never from a server-side module.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	_, err := m.client.Schema().ClassGetter().WithClassName(mirrorClass).Do(ctx)
	if err == nil {
		return nil
	}

	indexFilterable := new(bool)
	*indexFilterable = true

	class := &models.Class{
		Class:       mirrorClass,
		Description: "Archived evolution experience mirrored from the file store.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "recordId",
				DataType:        []string{"text"},
				Description:     "Archive record id, the join key back to the file store.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Record title.",
				Tokenization: "word",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Record body.",
				Tokenization: "word",
			},
			{
				Name:            "recordType",
				DataType:        []string{"text"},
				Description:     "Record type, e.g. lesson_learned or branch_archive.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "tags",
				DataType:    []string{"text[]"},
				Description: "Freeform tags.",
			},
			{
				Name:        "createdAt",
				DataType:    []string{"text"},
				Description: "RFC3339 creation time.",
			},
		},
	}
	if err := m.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s class: %w", mirrorClass, err)
	}
	m.logger.Info("created weaviate class", "class", mirrorClass)
	return nil
}

// mirrorID derives a stable Weaviate object id from the record id, so
// mirroring the same record twice overwrites rather than duplicates.
func mirrorID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String())
}

// Put upserts one record. Records without embeddings are skipped: the
// class exists for vector recall and carries no server-side vectorizer to
// fill the gap.
func (m *Mirror) Put(ctx context.Context, rec Record) error {
	if len(rec.Embedding) == 0 {
		return nil
	}

	props := map[string]interface{}{
		"recordId":   rec.ID,
		"title":      rec.Title,
		"content":    rec.Content,
		"recordType": string(rec.Type),
		"tags":       rec.Tags,
		"createdAt":  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	id := string(mirrorID(rec.ID))

	_, err := m.client.Data().Creator().
		WithClassName(mirrorClass).
		WithID(id).
		WithProperties(props).
		WithVector(toFloat32(rec.Embedding)).
		Do(ctx)
	if err == nil {
		return nil
	}

	// The id already exists when a record is re-mirrored; merge the
	// properties into the existing object instead.
	uerr := m.client.Data().Updater().
		WithClassName(mirrorClass).
		WithID(id).
		WithProperties(props).
		WithMerge().
		Do(ctx)
	if uerr != nil {
		return fmt.Errorf("mirror create failed (%v), merge failed: %w", err, uerr)
	}
	return nil
}

// Search runs a nearVector query against the mirror, optionally filtered
// by record type. Distances come back in whatever metric the class is
// configured with (cosine by default).
func (m *Mirror) Search(ctx context.Context, vector []float64, recordType RecordType, limit int) ([]Entry, error) {
	nearVector := m.client.GraphQL().NearVectorArgBuilder().
		WithVector(toFloat32(vector))

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "recordType"},
		{Name: "tags"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	query := m.client.GraphQL().Get().
		WithClassName(mirrorClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit)
	if recordType != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"recordType"}).
			WithOperator(filters.Equal).
			WithValueString(string(recordType)))
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("mirror query: %s", resp.Errors[0].Message)
	}
	return parseMirrorHits(resp)
}

type mirrorHit struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	RecordType string   `json:"recordType"`
	Tags       []string `json:"tags"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

// parseMirrorHits decodes the GraphQL payload by round-tripping it through
// JSON into typed hits.
func parseMirrorHits(resp *models.GraphQLResponse) ([]Entry, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal mirror response: %w", err)
	}

	var payload struct {
		Get struct {
			KnowledgeRecord []mirrorHit `json:"KnowledgeRecord"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode mirror response: %w", err)
	}

	entries := make([]Entry, 0, len(payload.Get.KnowledgeRecord))
	for _, hit := range payload.Get.KnowledgeRecord {
		entries = append(entries, Entry{
			Title:    hit.Title,
			Type:     RecordType(hit.RecordType),
			Content:  truncateRunes(hit.Content, snippetRunes),
			Tags:     hit.Tags,
			Distance: hit.Additional.Distance,
			Score:    1 / (1 + hit.Additional.Distance),
		})
	}
	return entries, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
