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
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/server"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/supervisor"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/telemetry"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/timeseries"
)

// runServe brings up the appliance daemon: telemetry, the provider chain,
// both stores, the supervisor, and the HTTP/WebSocket surface. SIGINT and
// SIGTERM begin a graceful shutdown that drains in-flight requests and
// stops any active run.
func runServe(cmd *cobra.Command, args []string) {
	appLogger := buildLogger(config.Logging, "evolve")
	defer appLogger.Close()
	logger := appLogger.Slog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	tcfg := telemetry.DefaultConfig()
	tcfg.Environment = config.Server.Environment
	if config.Telemetry.TraceExporter != "" {
		tcfg.TraceExporter = config.Telemetry.TraceExporter
	}
	if config.Telemetry.MetricExporter != "" {
		tcfg.MetricExporter = config.Telemetry.MetricExporter
	}
	if config.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = config.Telemetry.OTLPEndpoint
	}
	if config.Telemetry.PrometheusPort != 0 {
		tcfg.PrometheusPort = config.Telemetry.PrometheusPort
	}
	telShutdown, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		log.Fatalf("Error initializing telemetry: %v", err)
	}

	provider, cleanupProvider, err := buildInference(config.Provider, logger)
	if err != nil {
		log.Fatalf("Error building inference backend: %v", err)
	}
	defer cleanupProvider()

	kb, err := buildKnowledge(ctx, config.KB, provider, logger)
	if err != nil {
		log.Fatalf("Error opening knowledge base: %v", err)
	}

	arc, exporter, err := buildArchive(ctx, config.Archive, logger)
	if err != nil {
		log.Fatalf("Error opening run archive: %v", err)
	}

	supCfg := supervisor.Config{
		Inference:              provider,
		SynthesisReviewTimeout: time.Duration(config.HIL.SynthesisReviewSeconds) * time.Second,
		Logger:                 logger,
	}
	// Interface fields stay truly nil when a store is unconfigured.
	if kb != nil {
		supCfg.KB = kb
	}
	if arc != nil {
		supCfg.Archive = arc
	}
	sup, err := supervisor.New(supCfg)
	if err != nil {
		log.Fatalf("Error building supervisor: %v", err)
	}

	metrics, err := telemetry.NewMetrics(nil, telemetry.Sources{
		PendingHIL:  func() int { return len(sup.PendingRequests()) },
		Subscribers: sup.Events().SubscriberCount,
	}, logger)
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		metrics.Watch(sup.Events())
	}

	var recorder *timeseries.Recorder
	if config.Influx.URL != "" {
		recorder, err = timeseries.New(timeseries.Config{
			URL:    config.Influx.URL,
			Token:  config.Influx.Token,
			Org:    config.Influx.Org,
			Bucket: config.Influx.Bucket,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("timeseries recorder disabled", "error", err)
		} else {
			pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
			if err := recorder.Ping(pingCtx); err != nil {
				logger.Warn("influxdb unreachable, recording anyway", "error", err)
			}
			pingCancel()
			recorder.Attach(sup.Events())
		}
	}

	addr := serveAddr
	if addr == "" {
		addr = config.Server.Addr
	}
	if addr == "" {
		addr = ":8080"
	}
	srv, err := server.New(server.Config{
		Addr:        addr,
		Environment: config.Server.Environment,
		Supervisor:  sup,
		KB:          kb,
		Archive:     arc,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("Error building server: %v", err)
	}

	stopMetricsServer := telemetry.ServeMetrics(tcfg.PrometheusPort, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("evolve daemon up",
		"addr", addr,
		"backend", config.Provider.Backend,
		"kb", config.KB.Dir,
		"archive", config.Archive.Dir)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	// Wind down outside-in: stop intake, stop the run, detach the
	// recorders, then close the stores and telemetry.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	sup.Close()
	if recorder != nil {
		recorder.Close()
	}
	if metrics != nil {
		metrics.Close()
	}
	if kb != nil {
		kb.Close()
	}
	if arc != nil {
		arc.Close()
	}
	if exporter != nil {
		exporter.Close()
	}
	if stopMetricsServer != nil {
		stopMetricsServer(shutdownCtx)
	}
	if telShutdown != nil {
		telShutdown(shutdownCtx)
	}
	logger.Info("evolve daemon stopped")
}
