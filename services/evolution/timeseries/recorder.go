// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timeseries records one InfluxDB point per evolution iteration so
// entropy and temperature trajectories can be graphed across runs. The
// recorder rides the event stream as an ordinary subscriber; it is wired
// only when an InfluxDB endpoint is configured, and a dropped point never
// touches the run.
package timeseries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// measurement is the InfluxDB measurement all iteration points land in.
const measurement = "evolution_iteration"

// writeTimeout bounds a single blocking write.
const writeTimeout = 5 * time.Second

// Config locates the InfluxDB bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Logger *slog.Logger
}

// Recorder writes iteration metrics to InfluxDB.
type Recorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger

	emitter *events.Emitter
	subID   string
	done    chan struct{}
}

// New connects a recorder. The connection is lazy; use Ping to probe it.
func New(cfg Config) (*Recorder, error) {
	if cfg.URL == "" {
		return nil, errors.New("timeseries: influxdb url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("timeseries: influxdb org and bucket are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
	}, nil
}

// Ping checks server health once.
func (r *Recorder) Ping(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("timeseries: influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		msg := string(health.Status)
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("timeseries: influxdb unhealthy: %s", msg)
	}
	return nil
}

// Attach subscribes to the emitter and starts recording. Call Close to
// detach.
func (r *Recorder) Attach(em *events.Emitter) {
	id, ch := em.Subscribe()
	r.emitter = em
	r.subID = id
	r.done = make(chan struct{})
	go r.pump(ch)
}

// Close detaches from the emitter, waits for the pump to drain, and shuts
// the client down.
func (r *Recorder) Close() {
	if r.emitter != nil {
		r.emitter.Unsubscribe(r.subID)
		<-r.done
		r.emitter = nil
	}
	if r.client != nil {
		r.client.Close()
	}
}

// pump follows the stream. Status events track which run the updates
// belong to; a point is cut when a snapshot carries entropy for an
// iteration not yet written, which lands exactly one point per evolution
// pass instead of one per node boundary.
func (r *Recorder) pump(ch <-chan events.Event) {
	defer close(r.done)

	runID := ""
	lastIteration := 0
	for ev := range ch {
		switch ev.Type {
		case events.TypeStatus:
			var sc events.StatusChange
			if err := json.Unmarshal(ev.Data, &sc); err != nil {
				continue
			}
			if sc.Status == events.StatusStarted {
				runID = sc.RunID
				lastIteration = 0
			}
		case events.TypeStateUpdate:
			var su events.StateUpdate
			if err := json.Unmarshal(ev.Data, &su); err != nil {
				r.logger.Warn("state update payload unreadable", "error", err)
				continue
			}
			if su.SpatialEntropy == nil || su.IterationCount <= lastIteration {
				continue
			}
			lastIteration = su.IterationCount
			r.record(runID, su, ev.At)
		}
	}
}

func (r *Recorder) record(runID string, su events.StateUpdate, at time.Time) {
	tags := map[string]string{"node": su.Node}
	if runID != "" {
		tags["run_id"] = runID
	}

	fields := map[string]interface{}{
		"iteration":         su.IterationCount,
		"report_version":    su.ReportVersion,
		"pending_decisions": su.PendingDecisions,
		"entropy":           *su.SpatialEntropy,
	}
	if su.EffectiveTemperature != nil {
		fields["effective_temperature"] = *su.EffectiveTemperature
	}
	if su.NormalizedTemperature != nil {
		fields["normalized_temperature"] = *su.NormalizedTemperature
	}
	for status, n := range su.StrategyCounts {
		fields[status] = n
	}

	point := influxdb2.NewPoint(measurement, tags, fields, at)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.write.WritePoint(ctx, point); err != nil {
		r.logger.Warn("iteration point dropped",
			"run_id", runID, "iteration", su.IterationCount, "error", err)
	}
}
