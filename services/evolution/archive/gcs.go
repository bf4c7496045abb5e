// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ExporterConfig configures the optional GCS export of terminal runs.
type ExporterConfig struct {
	// Bucket is the target bucket name.
	Bucket string

	// CredentialsFile is the path to a service-account key.
	CredentialsFile string

	// Prefix is the object prefix inside the bucket. Empty means "runs".
	Prefix string
}

// Exporter uploads final reports and state snapshots to a GCS bucket so an
// appliance's runs survive the appliance. Failures never affect the run;
// the archive logs and moves on.
type Exporter struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewExporter builds a GCS exporter from a service-account key file.
func NewExporter(ctx context.Context, cfg ExporterConfig, logger *slog.Logger) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs export needs a bucket name")
	}
	if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at %s", cfg.CredentialsFile)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "runs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Export uploads the run's report and state snapshot as two objects under
// <prefix>/<run_id>/.
func (e *Exporter) Export(ctx context.Context, rec Record) error {
	if rec.FinalReport != "" {
		object := path.Join(e.prefix, rec.RunID, "report.md")
		if err := e.upload(ctx, object, "text/markdown", []byte(rec.FinalReport)); err != nil {
			return err
		}
	}
	if len(rec.State) > 0 {
		object := path.Join(e.prefix, rec.RunID, "state.json")
		if err := e.upload(ctx, object, "application/json", rec.State); err != nil {
			return err
		}
	}
	e.logger.Info("run exported to GCS",
		"run_id", rec.RunID,
		"bucket", e.bucket,
	)
	return nil
}

func (e *Exporter) upload(ctx context.Context, object, contentType string, data []byte) error {
	writer := e.client.Bucket(e.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", e.bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", e.bucket, object, err)
	}
	return nil
}

// Close releases the underlying client.
func (e *Exporter) Close() error {
	return e.client.Close()
}
