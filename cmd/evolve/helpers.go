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

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianEvolve/pkg/logging"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/archive"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

// buildLogger constructs the process logger from the config file. Format
// "auto" picks text on a TTY and JSON otherwise, so piped daemon output
// stays machine-readable.
func buildLogger(cfg LoggingConfig, service string) *logging.Logger {
	jsonOut := false
	switch cfg.Format {
	case "json":
		jsonOut = true
	case "text":
		jsonOut = false
	default:
		jsonOut = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Level),
		LogDir:  cfg.Dir,
		Service: service,
		JSON:    jsonOut,
	})
}

// buildBackend constructs one named inference backend. useConfigURL keeps
// provider.base_url bound to the primary backend only; a fallback backend
// resolves its endpoint from the environment or its own default.
func buildBackend(name string, p ProviderConfig, useConfigURL bool) (inference.Service, func(), error) {
	baseURL := ""
	if useConfigURL {
		baseURL = p.BaseURL
	}
	switch name {
	case "ollama":
		if env := os.Getenv("OLLAMA_BASE_URL"); env != "" {
			baseURL = env
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		svc, err := inference.NewOllamaService(inference.OllamaConfig{
			BaseURL:    baseURL,
			Model:      p.Model,
			EmbedModel: p.EmbedModel,
			NumCtx:     p.NumCtx,
		})
		if err != nil {
			return nil, nil, err
		}
		return svc, func() {}, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("openai backend requires OPENAI_API_KEY in the environment")
		}
		vault, err := inference.NewKeyVault(key)
		if err != nil {
			return nil, nil, fmt.Errorf("sealing api key: %w", err)
		}
		if env := os.Getenv("OPENAI_BASE_URL"); env != "" {
			baseURL = env
		}
		svc, err := inference.NewOpenAIService(inference.OpenAIConfig{
			BaseURL:    baseURL,
			Model:      p.Model,
			EmbedModel: p.EmbedModel,
			Vault:      vault,
		})
		if err != nil {
			vault.Destroy()
			return nil, nil, err
		}
		return svc, func() { vault.Destroy(); inference.Purge() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider backend %q (want ollama or openai)", name)
	}
}

// buildInference assembles the full provider chain: the configured
// backend, an optional rate limiter, and an optional fallback backend.
// The returned cleanup wipes any sealed keys and must run on exit.
func buildInference(p ProviderConfig, logger *slog.Logger) (inference.Service, func(), error) {
	svc, cleanup, err := buildBackend(p.Backend, p, true)
	if err != nil {
		return nil, nil, err
	}
	if p.RPS > 0 {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		svc = inference.NewRateLimited(svc, p.RPS, burst)
	}
	if p.Fallback != "" && p.Fallback != p.Backend {
		fb, fbCleanup, err := buildBackend(p.Fallback, p, false)
		if err != nil {
			logger.Warn("fallback backend unavailable", "backend", p.Fallback, "error", err)
		} else {
			svc = inference.NewFallback(svc, fb)
			primaryCleanup := cleanup
			cleanup = func() { primaryCleanup(); fbCleanup() }
		}
	}
	return svc, cleanup, nil
}

// buildKnowledge opens the knowledge base named in the config, wiring the
// weaviate mirror when one is configured. Returns nil when no directory is
// set; a mirror that cannot come up degrades to files-only with a warning.
func buildKnowledge(ctx context.Context, cfg KBConfig, embedder knowledge.Embedder, logger *slog.Logger) (*knowledge.Store, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	var mirror *knowledge.Mirror
	if cfg.WeaviateURL != "" {
		m, err := knowledge.NewMirror(cfg.WeaviateURL, logger)
		if err != nil {
			logger.Warn("weaviate mirror disabled", "error", err)
		} else if err := m.EnsureSchema(ctx); err != nil {
			logger.Warn("weaviate mirror disabled", "error", err)
		} else {
			mirror = m
		}
	}
	return knowledge.New(knowledge.Config{
		Dir:              expandHome(cfg.Dir),
		Embedder:         embedder,
		EpsilonThreshold: cfg.EpsilonThreshold,
		Mirror:           mirror,
		Watch:            cfg.Watch,
		Logger:           logger,
	})
}

// buildArchive opens the run archive named in the config, attaching the
// GCS exporter when a bucket is configured. Returns nil stores when no
// directory is set. The exporter comes back separately because the store
// does not own it; the caller closes it after the store.
func buildArchive(ctx context.Context, cfg ArchiveConfig, logger *slog.Logger) (*archive.Store, *archive.Exporter, error) {
	if cfg.Dir == "" {
		return nil, nil, nil
	}
	acfg := archive.DefaultConfig(expandHome(cfg.Dir))
	acfg.Logger = logger
	var exporter *archive.Exporter
	if cfg.GCS.Bucket != "" {
		exp, err := archive.NewExporter(ctx, archive.ExporterConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Prefix:          cfg.GCS.Prefix,
		}, logger)
		if err != nil {
			logger.Warn("gcs export disabled", "error", err)
		} else {
			acfg.Exporter = exp
			exporter = exp
		}
	}
	store, err := archive.Open(acfg)
	if err != nil {
		if exporter != nil {
			exporter.Close()
		}
		return nil, nil, err
	}
	return store, exporter, nil
}

// serverBaseURL turns the configured listen address into a client base
// URL. A bare ":8080" listens on every interface; clients dial localhost.
func serverBaseURL(override string) string {
	if override != "" {
		return strings.TrimSuffix(override, "/")
	}
	addr := config.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
