// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries run progress from the graph task to any number of
// subscribers (WebSocket clients, the archive, the timeseries recorder).
//
// Delivery is per-subscriber ordered and never blocks the publisher: a
// subscriber that stops draining its channel is dropped, not waited on.
package events

import (
	"encoding/json"
	"time"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// Type names a wire event. The values are the exact strings WebSocket
// clients switch on.
type Type string

const (
	TypeStatus          Type = "status"
	TypeStateUpdate     Type = "state_update"
	TypeAgentStart      Type = "agent_start"
	TypeAgentProgress   Type = "agent_progress"
	TypeAgentComplete   Type = "agent_complete"
	TypeFinalReport     Type = "final_report"
	TypeError           Type = "error"
	TypeHILRequired     Type = "hil_required"
	TypeForceSynthesize Type = "HIL_FORCE_SYNTHESIZE"

	// TypeHILResponse is inbound only: clients answer a hil_required
	// event with it over the socket. It never appears on the stream.
	TypeHILResponse Type = "hil_response"
)

// Event is one envelope on the stream. Data is pre-marshaled so every
// subscriber shares one serialization and live state is never aliased
// across goroutines.
type Event struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Seq  uint64          `json:"seq"`
	At   time.Time       `json:"at"`
}

// Run status values carried by TypeStatus events.
const (
	StatusStarted   = "started"
	StatusStopped   = "stopped"
	StatusCompleted = "completed"
)

// StatusChange is the payload of TypeStatus.
type StatusChange struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// StateUpdate is the payload of TypeStateUpdate, taken after each node
// boundary. Delta is the partial the node returned, so UI streams can
// render changes incrementally; the scalar fields summarize the merged
// state for subscribers that only chart the physics.
type StateUpdate struct {
	Node                  string         `json:"node"`
	IterationCount        int            `json:"iteration_count"`
	ResearchIteration     int            `json:"research_iteration"`
	ReportVersion         int            `json:"report_version"`
	SpatialEntropy        *float64       `json:"spatial_entropy,omitempty"`
	EffectiveTemperature  *float64       `json:"effective_temperature,omitempty"`
	NormalizedTemperature *float64       `json:"normalized_temperature,omitempty"`
	StrategyCounts        map[string]int `json:"strategy_counts,omitempty"`
	PendingDecisions      int            `json:"pending_decisions"`
	Delta                 *state.Delta   `json:"delta,omitempty"`
}

// AgentStart is the payload of TypeAgentStart.
type AgentStart struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// AgentProgress is the payload of TypeAgentProgress. Detail is the tail of
// the run history.
type AgentProgress struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// AgentComplete is the payload of TypeAgentComplete.
type AgentComplete struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// HILRequest is the payload of TypeHILRequired.
type HILRequest struct {
	RequestID      string    `json:"request_id"`
	Agent          string    `json:"agent"`
	Question       string    `json:"question"`
	Context        string    `json:"context,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// HILResponse is the inbound client payload answering a HILRequest.
type HILResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

// ForceSynthesize is the payload of TypeForceSynthesize.
type ForceSynthesize struct {
	StrategyIDs []string `json:"strategy_ids"`
	Message     string   `json:"message,omitempty"`
}

// FinalReport is the payload of TypeFinalReport.
type FinalReport struct {
	Report  string `json:"report"`
	Version int    `json:"version"`
}

// ErrorEvent is the payload of TypeError.
type ErrorEvent struct {
	Node    string `json:"node,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
