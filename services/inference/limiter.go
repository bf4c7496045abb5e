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

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 2
	defaultBurst = 4
)

// RateLimited wraps a backend with a token-bucket limiter so a fast
// evolution loop cannot hammer a provider. Waits respect the caller's
// context.
type RateLimited struct {
	inner   Service
	limiter *rate.Limiter
}

// NewRateLimited wraps inner. Non-positive rps or burst fall back to the
// defaults (2 rps, burst 4).
func NewRateLimited(inner Service, rps float64, burst int) *RateLimited {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GenerateJSON implements the Service interface.
func (r *RateLimited) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GenerateJSON(ctx, req)
}

// Embed implements the Service interface.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}
