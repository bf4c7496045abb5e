// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/archive"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/supervisor"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/telemetry"
)

type startRequest struct {
	Problem string         `json:"problem" binding:"required"`
	Config  map[string]any `json:"config"`
}

type hilResponseRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Response  string `json:"response"`
}

type forceSynthesizeRequest struct {
	StrategyIDs []string `json:"strategy_ids" binding:"required,min=1"`
	Message     string   `json:"message"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "evolution"})
}

// handleStart accepts a problem statement plus partial config overrides and
// launches a run. A run already in flight is a conflict; everything else
// the supervisor rejects is a bad request.
func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cfg := state.DefaultConfig()
	cfg.Override(req.Config)

	runID, err := s.sup.Start(req.Problem, cfg)
	if err != nil {
		if errors.Is(err, supervisor.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).
			Warn("run rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	telemetry.LoggerWithRun(c.Request.Context(), s.logger, runID).
		Info("run started", "problem_len", len(req.Problem))
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "started"})
}

// handleStop blocks until the active run has wound down, so a 200 means
// the slot is free again.
func (s *Server) handleStop(c *gin.Context) {
	if err := s.sup.Stop(); err != nil {
		if errors.Is(err, supervisor.ErrNoActiveRun) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sup.Status())
}

func (s *Server) handleHILResponse(c *gin.Context) {
	var req hilResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.sup.SubmitResponse(req.RequestID, req.Response); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) handleHILPending(c *gin.Context) {
	pending := s.sup.PendingRequests()
	c.JSON(http.StatusOK, gin.H{"pending": pending, "count": len(pending)})
}

func (s *Server) handleForceSynthesize(c *gin.Context) {
	var req forceSynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.sup.ForceSynthesize(req.StrategyIDs, req.Message); err != nil {
		if errors.Is(err, supervisor.ErrNoActiveRun) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// handleListRuns returns archived runs newest first, without the state
// snapshots. Fetch a single run for the full record.
func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	recs, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).
			Error("archive list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive read failed"})
		return
	}
	for i := range recs {
		recs[i].State = nil
	}
	c.JSON(http.StatusOK, gin.H{"runs": recs, "count": len(recs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive not configured"})
		return
	}
	rec, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).
			Error("archive read failed", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive read failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleKBSearch(c *gin.Context) {
	if s.kb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge base not configured"})
		return
	}
	text := c.Query("q")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	q := knowledge.Query{Text: text}
	if t := c.Query("type"); t != "" {
		rt := knowledge.RecordType(t)
		if !rt.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record type: " + t})
			return
		}
		q.Type = rt
	}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = limit
	}

	entries, err := s.kb.Search(c.Request.Context(), q)
	if err != nil {
		telemetry.LoggerWithTrace(c.Request.Context(), s.logger).
			Error("kb search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": entries, "count": len(entries)})
}
