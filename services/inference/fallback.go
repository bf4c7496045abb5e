// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback tries backends in order until one answers. A cancelled context
// stops the chain immediately; provider errors do not.
type Fallback struct {
	backends []Service
	logger   *slog.Logger
}

// NewFallback builds a chain. The first backend is the primary.
func NewFallback(backends ...Service) *Fallback {
	return &Fallback{
		backends: backends,
		logger:   slog.Default(),
	}
}

// GenerateJSON implements the Service interface.
func (f *Fallback) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for i, backend := range f.backends {
		resp, err := backend.GenerateJSON(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.logger.Warn("provider failed, trying next",
			slog.Int("provider_index", i),
			slog.String("error", err.Error()),
		)
	}
	if lastErr == nil {
		return nil, ErrAllProvidersFailed
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// Embed implements the Service interface.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	for i, backend := range f.backends {
		vec, err := backend.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.logger.Warn("embedding provider failed, trying next",
			slog.Int("provider_index", i),
			slog.String("error", err.Error()),
		)
	}
	if lastErr == nil {
		return nil, ErrAllProvidersFailed
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}
