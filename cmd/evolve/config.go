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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// configHeader is written above the YAML on first run.
const configHeader = `# evolve appliance configuration.
# Generated with defaults on first run; edit and restart the daemon.
# Provider API keys come from the environment (OPENAI_API_KEY), never
# from this file.
`

// Config is the operator configuration, loaded from ~/.evolve/evolve.yaml
// (or the file named by EVOLVE_CONFIG / --config). Run-level knobs live in
// the per-run config posted to the API, not here.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	KB        KBConfig        `yaml:"kb"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Influx    InfluxConfig    `yaml:"influx"`
	Logging   LoggingConfig   `yaml:"logging"`
	HIL       HILConfig       `yaml:"hil"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// Environment gates gin debug output; anything but "development"
	// runs in release mode.
	Environment string `yaml:"environment"`
}

// ProviderConfig selects and tunes the inference backend.
type ProviderConfig struct {
	// Backend is "ollama" or "openai".
	Backend string `yaml:"backend"`

	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`

	// BaseURL overrides the backend endpoint. Empty uses the backend's
	// default (or the OLLAMA_BASE_URL / OPENAI_BASE_URL environment).
	BaseURL string `yaml:"base_url"`

	// NumCtx is the Ollama context window. Zero leaves the model default.
	NumCtx int `yaml:"num_ctx"`

	// RPS and Burst rate-limit generation calls when RPS is positive.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	// Fallback names a second backend tried when the primary fails.
	Fallback string `yaml:"fallback"`
}

// KBConfig locates the cross-run knowledge base.
type KBConfig struct {
	Dir              string  `yaml:"dir"`
	EpsilonThreshold float64 `yaml:"epsilon_threshold"`

	// WeaviateURL enables the optional vector mirror when set.
	WeaviateURL string `yaml:"weaviate_url"`

	// Watch refreshes the index when another process drops record files
	// into the directory.
	Watch bool `yaml:"watch"`
}

// ArchiveConfig locates the run archive.
type ArchiveConfig struct {
	Dir string    `yaml:"dir"`
	GCS GCSConfig `yaml:"gcs"`
}

// GCSConfig enables the optional export of terminal runs to a bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Prefix          string `yaml:"prefix"`
}

// TelemetryConfig mirrors telemetry.Config for the file. Empty fields keep
// the telemetry package defaults (which read the OTEL_* environment).
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter"`
	MetricExporter string `yaml:"metric_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	PrometheusPort int    `yaml:"prometheus_port"`
}

// InfluxConfig enables the iteration time series when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "auto" (JSON unless stderr is a TTY), "text", or "json".
	Format string `yaml:"format"`

	// Dir enables a daily JSON log file alongside stderr.
	Dir string `yaml:"dir"`
}

// HILConfig tunes the human-in-the-loop gates.
type HILConfig struct {
	// SynthesisReviewSeconds is how long model-initiated synthesis waits
	// for a human veto. Zero skips the review window.
	SynthesisReviewSeconds int `yaml:"synthesis_review_seconds"`
}

// DefaultConfig returns the configuration written on first run: a local
// Ollama backend, stores under ~/.evolve, and prometheus metrics.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			Environment: "production",
		},
		Provider: ProviderConfig{
			Backend: "ollama",
			BaseURL: "http://localhost:11434",
		},
		KB: KBConfig{
			Dir:              "~/.evolve/kb",
			EpsilonThreshold: 1.0,
		},
		Archive: ArchiveConfig{
			Dir: "~/.evolve/runs",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			PrometheusPort: 9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// configPath resolves where the config lives: EVOLVE_CONFIG wins, then
// ~/.evolve/evolve.yaml.
func configPath() string {
	if p := os.Getenv("EVOLVE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "evolve.yaml"
	}
	return filepath.Join(home, ".evolve", "evolve.yaml")
}

// LoadConfig reads the config at path (empty means configPath()). A
// missing file is not an error: the defaults are written there for the
// operator to edit and returned as-is. File values overlay the defaults,
// so a partial file is fine.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = configPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Best effort; a read-only home still gets a working in-memory
		// config.
		writeDefaultConfig(path, cfg)
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies the environment overrides that belong to the operator
// config. Provider endpoints and keys are resolved per backend at build
// time instead.
func (c *Config) applyEnv() {
	if env := os.Getenv("EVOLVE_ENV"); env != "" {
		c.Server.Environment = env
	}
}

func writeDefaultConfig(path string, cfg Config) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	os.WriteFile(path, append([]byte(configHeader), data...), 0640)
}

// expandHome expands a leading ~ so store directories in the file can be
// written portably.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
