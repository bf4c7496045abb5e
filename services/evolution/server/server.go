// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server is the HTTP and WebSocket surface over the evolution
// supervisor: run lifecycle commands, human-in-the-loop traffic, the run
// archive, knowledge base search, and the live event stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/archive"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/supervisor"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/telemetry"
)

// Config assembles the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Environment selects the gin mode: anything but "development" runs
	// in release mode.
	Environment string

	// Supervisor owns the run lifecycle. Required.
	Supervisor *supervisor.Supervisor

	// KB backs /api/v1/kb/search. Optional.
	KB *knowledge.Store

	// Archive backs /api/v1/runs. Optional.
	Archive *archive.Store

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server carries the router and the listener.
type Server struct {
	sup    *supervisor.Supervisor
	kb     *knowledge.Store
	runs   *archive.Store
	logger *slog.Logger
	router *gin.Engine
	srv    *http.Server
}

// New builds the router and registers all routes. The /metrics route is
// mounted only when the prometheus exporter was initialized before New.
func New(cfg Config) (*Server, error) {
	if cfg.Supervisor == nil {
		return nil, errors.New("server: supervisor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		sup:    cfg.Supervisor,
		kb:     cfg.KB,
		runs:   cfg.Archive,
		logger: cfg.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("evolution-service"))
	s.registerRoutes(router)

	s.router = router
	s.srv = &http.Server{Addr: cfg.Addr, Handler: router}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/api/v1")
	{
		sim := v1.Group("/simulation")
		{
			sim.POST("/start", s.handleStart)
			sim.POST("/stop", s.handleStop)
			sim.GET("/status", s.handleStatus)
			sim.POST("/hil/response", s.handleHILResponse)
			sim.GET("/hil/pending", s.handleHILPending)
			sim.POST("/force-synthesize", s.handleForceSynthesize)
		}
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/kb/search", s.handleKBSearch)
	}
}
