// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// scope is the instrumentation scope shared with the engine and the
// knowledge base.
const scope = "aleutian.evolution"

// Sources are optional callbacks for gauges whose truth lives outside the
// event stream.
type Sources struct {
	PendingHIL  func() int
	Subscribers func() int
}

// Metrics is the run-level instrument registry. It rides the event stream
// as a subscriber; instruments that belong to a single call site, like the
// engine's per-visit histograms or the knowledge base search latency, are
// created where they are recorded.
type Metrics struct {
	runsTotal      metric.Int64Counter
	iteration      metric.Int64Gauge
	entropy        metric.Float64Gauge
	effectiveTemp  metric.Float64Gauge
	normalizedTemp metric.Float64Gauge
	population     metric.Int64Gauge

	hilOutstanding metric.Int64ObservableGauge
	subscribers    metric.Int64ObservableGauge
	registration   metric.Registration

	logger  *slog.Logger
	emitter *events.Emitter
	subID   string
	done    chan struct{}
}

// NewMetrics builds the registry on the given provider. A nil provider
// selects the global one, so call it after Init.
func NewMetrics(mp metric.MeterProvider, src Sources, logger *slog.Logger) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := mp.Meter(scope)

	m := &Metrics{logger: logger}
	var err error
	if m.runsTotal, err = meter.Int64Counter("evolve_runs_total",
		metric.WithDescription("Finished runs by terminal status"),
	); err != nil {
		return nil, err
	}
	if m.iteration, err = meter.Int64Gauge("evolve_iteration",
		metric.WithDescription("Evolution iteration of the current run"),
	); err != nil {
		return nil, err
	}
	if m.entropy, err = meter.Float64Gauge("evolve_spatial_entropy",
		metric.WithDescription("Spatial entropy of the strategy population"),
	); err != nil {
		return nil, err
	}
	if m.effectiveTemp, err = meter.Float64Gauge("evolve_effective_temperature",
		metric.WithDescription("Effective temperature of the strategy population"),
	); err != nil {
		return nil, err
	}
	if m.normalizedTemp, err = meter.Float64Gauge("evolve_normalized_temperature",
		metric.WithDescription("Effective temperature normalized to [0,1]"),
	); err != nil {
		return nil, err
	}
	if m.population, err = meter.Int64Gauge("evolve_strategies",
		metric.WithDescription("Strategies by status"),
	); err != nil {
		return nil, err
	}

	if src.PendingHIL != nil || src.Subscribers != nil {
		if m.hilOutstanding, err = meter.Int64ObservableGauge("evolve_hil_outstanding",
			metric.WithDescription("Unanswered human input requests"),
		); err != nil {
			return nil, err
		}
		if m.subscribers, err = meter.Int64ObservableGauge("evolve_subscribers",
			metric.WithDescription("Attached event stream subscribers"),
		); err != nil {
			return nil, err
		}
		m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			if src.PendingHIL != nil {
				o.ObserveInt64(m.hilOutstanding, int64(src.PendingHIL()))
			}
			if src.Subscribers != nil {
				o.ObserveInt64(m.subscribers, int64(src.Subscribers()))
			}
			return nil
		}, m.hilOutstanding, m.subscribers)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Watch feeds the registry from the stream until Close.
func (m *Metrics) Watch(em *events.Emitter) {
	id, ch := em.Subscribe()
	m.emitter = em
	m.subID = id
	m.done = make(chan struct{})
	go m.pump(ch)
}

// Close detaches from the stream and unregisters the callback gauges.
func (m *Metrics) Close() {
	if m.emitter != nil {
		m.emitter.Unsubscribe(m.subID)
		<-m.done
		m.emitter = nil
	}
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}

func (m *Metrics) pump(ch <-chan events.Event) {
	defer close(m.done)
	for ev := range ch {
		switch ev.Type {
		case events.TypeStatus:
			var sc events.StatusChange
			if json.Unmarshal(ev.Data, &sc) != nil {
				continue
			}
			if sc.Status == events.StatusCompleted || sc.Status == events.StatusStopped {
				m.runsTotal.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("status", sc.Status)))
			}
		case events.TypeStateUpdate:
			var su events.StateUpdate
			if err := json.Unmarshal(ev.Data, &su); err != nil {
				m.logger.Warn("state update payload unreadable", "error", err)
				continue
			}
			m.observe(su)
		}
	}
}

func (m *Metrics) observe(su events.StateUpdate) {
	ctx := context.Background()
	m.iteration.Record(ctx, int64(su.IterationCount))
	if su.SpatialEntropy != nil {
		m.entropy.Record(ctx, *su.SpatialEntropy)
	}
	if su.EffectiveTemperature != nil {
		m.effectiveTemp.Record(ctx, *su.EffectiveTemperature)
	}
	if su.NormalizedTemperature != nil {
		m.normalizedTemp.Record(ctx, *su.NormalizedTemperature)
	}
	for status, n := range su.StrategyCounts {
		m.population.Record(ctx, int64(n),
			metric.WithAttributes(attribute.String("status", status)))
	}
}
