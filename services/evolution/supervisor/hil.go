// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// TimeoutSentinel is the answer a node receives when no human responds in
// time. It reads as an instruction so the model proceeds on its own.
const TimeoutSentinel = "[No human response within timeout - proceeding with best judgment]"

// defaultAskTimeout applies when a node asks without a deadline.
const defaultAskTimeout = 5 * time.Minute

// pendingRequest is one unanswered question. The response channel is
// buffered so a resolution never blocks, even after the asker gave up.
type pendingRequest struct {
	info   events.HILRequest
	resp   chan string
	expire *time.Timer
}

// hilRegistry tracks unanswered questions. Entries leave the registry when
// answered, when their deadline passes, or when the asking node timed out
// locally; the expiry timer covers questions whose asker is already gone.
type hilRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newHILRegistry() *hilRegistry {
	return &hilRegistry{pending: make(map[string]*pendingRequest)}
}

func (h *hilRegistry) add(req events.HILRequest, resp chan string, ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &pendingRequest{info: req, resp: resp}
	p.expire = time.AfterFunc(ttl, func() { h.remove(req.RequestID) })
	h.pending[req.RequestID] = p
}

func (h *hilRegistry) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pending[id]; ok {
		p.expire.Stop()
		delete(h.pending, id)
	}
}

// resolve delivers an answer and retires the request. The first answer
// wins; anything later reports ErrUnknownRequest.
func (h *hilRegistry) resolve(id, response string) error {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		p.expire.Stop()
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	p.resp <- response
	return nil
}

func (h *hilRegistry) list() []events.HILRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.HILRequest, 0, len(h.pending))
	for _, p := range h.pending {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AskHuman implements nodes.Asker. The question is broadcast to every
// subscriber and the call blocks until someone answers, the timeout
// passes, or the run is cancelled. A timeout is not an error: the node
// receives TimeoutSentinel and carries on.
func (s *Supervisor) AskHuman(ctx context.Context, agent, question, detail string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultAskTimeout
	}
	req := events.HILRequest{
		RequestID:      uuid.NewString(),
		Agent:          agent,
		Question:       question,
		Context:        detail,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      time.Now().UTC(),
	}
	resp := make(chan string, 1)
	s.hil.add(req, resp, timeout)
	s.emitter.Publish(events.TypeHILRequired, req)
	s.logger.Info("waiting for human input",
		"request_id", req.RequestID, "agent", agent, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case answer := <-resp:
		return answer, nil
	case <-timer.C:
		s.hil.remove(req.RequestID)
		s.logger.Warn("no human response", "request_id", req.RequestID, "agent", agent)
		return TimeoutSentinel, nil
	case <-ctx.Done():
		// The question stays pending until its own deadline; a late
		// answer lands in the buffered channel and is dropped with it.
		return "", ctx.Err()
	}
}

// SubmitResponse answers one pending question.
func (s *Supervisor) SubmitResponse(requestID, response string) error {
	if err := s.hil.resolve(requestID, response); err != nil {
		return err
	}
	s.logger.Info("human response received", "request_id", requestID)
	return nil
}

// PendingRequests lists unanswered questions, oldest first.
func (s *Supervisor) PendingRequests() []events.HILRequest {
	return s.hil.list()
}
