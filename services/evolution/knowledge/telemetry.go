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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.evolution")
	meter  = otel.Meter("aleutian.evolution")

	searchOnce    sync.Once
	searchLatency metric.Float64Histogram
)

// searchInstrument returns the search latency histogram, created on first
// use so the global meter provider is the one Init installed. Nil when
// instrument creation failed; callers skip recording.
func searchInstrument() metric.Float64Histogram {
	searchOnce.Do(func() {
		var err error
		searchLatency, err = meter.Float64Histogram("evolve_kb_search_duration_seconds",
			metric.WithDescription("Knowledge base search latency"),
			metric.WithUnit("s"),
		)
		if err != nil {
			searchLatency = nil
		}
	})
	return searchLatency
}
