// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEvolve/pkg/ux"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
)

// runKBSearch queries the local knowledge base from the terminal. Default
// is the substring fallback so searches work offline; --semantic builds
// the configured provider and embeds the query for vector recall.
func runKBSearch(cmd *cobra.Command, args []string) {
	if code := kbSearch(args); code != 0 {
		os.Exit(code)
	}
}

func kbSearch(args []string) int {
	lcfg := config.Logging
	lcfg.Level = "warn"
	appLogger := buildLogger(lcfg, "evolve-kb")
	defer appLogger.Close()
	logger := appLogger.Slog()

	ctx := context.Background()

	var embedder knowledge.Embedder
	if kbSemantic {
		provider, cleanup, err := buildInference(config.Provider, logger)
		if err != nil {
			ux.Error(fmt.Sprintf("Inference backend: %v", err))
			return 1
		}
		defer cleanup()
		embedder = provider
	}

	kb, err := openKB(embedder, logger)
	if err != nil {
		ux.Error(err.Error())
		return 1
	}
	defer kb.Close()

	q := knowledge.Query{
		Text:  strings.Join(args, " "),
		Type:  knowledge.RecordType(kbType),
		Limit: kbLimit,
	}
	if kbType != "" && !q.Type.Valid() {
		ux.Error(fmt.Sprintf("Unknown record type %q", kbType))
		return 1
	}

	entries, err := kb.Search(ctx, q)
	if err != nil {
		ux.Error(fmt.Sprintf("Search: %v", err))
		return 1
	}
	if len(entries) == 0 {
		ux.Muted("no matching records")
		return 0
	}

	for _, e := range entries {
		header := fmt.Sprintf("%s  %s", ux.Styles.Bold.Render(e.Title), ux.Styles.Muted.Render(string(e.Type)))
		if kbSemantic {
			header += ux.Styles.Muted.Render(fmt.Sprintf("  d=%.3f", e.Distance))
		}
		fmt.Println(header)
		if len(e.Tags) > 0 {
			ux.Muted("  " + strings.Join(e.Tags, ", "))
		}
		for _, line := range strings.Split(strings.TrimSpace(e.Content), "\n") {
			fmt.Println("  " + line)
		}
		fmt.Println()
	}
	return 0
}

// runKBShow prints one record in full, found by id prefix so operators can
// paste the short id from a search result or a filename.
func runKBShow(cmd *cobra.Command, args []string) {
	if code := kbShow(args[0]); code != 0 {
		os.Exit(code)
	}
}

func kbShow(id string) int {
	lcfg := config.Logging
	lcfg.Level = "warn"
	appLogger := buildLogger(lcfg, "evolve-kb")
	defer appLogger.Close()

	kb, err := openKB(nil, appLogger.Slog())
	if err != nil {
		ux.Error(err.Error())
		return 1
	}
	defer kb.Close()

	rec, err := kb.Get(id)
	if err != nil {
		// Fall back to a prefix scan; record ids are long UUIDs.
		var matches []knowledge.Record
		for _, r := range kb.All() {
			if strings.HasPrefix(r.ID, id) {
				matches = append(matches, r)
			}
		}
		switch len(matches) {
		case 0:
			ux.Error(fmt.Sprintf("No record with id %q", id))
			return 1
		case 1:
			rec = matches[0]
		default:
			ux.Error(fmt.Sprintf("%d records match %q; use more of the id", len(matches), id))
			return 1
		}
	}

	ux.Title(rec.Title)
	ux.KeyValue("id", rec.ID)
	ux.KeyValue("type", string(rec.Type))
	ux.KeyValue("created", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(rec.Tags) > 0 {
		ux.KeyValue("tags", strings.Join(rec.Tags, ", "))
	}
	for k, v := range rec.Metadata {
		ux.KeyValue(k, v)
	}
	if len(rec.Embedding) > 0 {
		ux.KeyValue("embedding", fmt.Sprintf("%d dims", len(rec.Embedding)))
	}
	fmt.Println()
	fmt.Println(rec.Content)
	return 0
}

// openKB opens the configured knowledge base without the watcher or the
// weaviate mirror; CLI queries are one-shot reads.
func openKB(embedder knowledge.Embedder, logger *slog.Logger) (*knowledge.Store, error) {
	if config.KB.Dir == "" {
		return nil, fmt.Errorf("no knowledge base directory configured (kb.dir)")
	}
	kb, err := knowledge.New(knowledge.Config{
		Dir:              expandHome(config.KB.Dir),
		Embedder:         embedder,
		EpsilonThreshold: config.KB.EpsilonThreshold,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}
	return kb, nil
}
