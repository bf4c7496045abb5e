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
	"crypto/sha256"
	"fmt"
	"sync"
)

// Scripted is a Service backed by canned responses, for tests and demos.
// Responses are consumed in FIFO order; every call is recorded.
type Scripted struct {
	mu         sync.Mutex
	responses  []string
	embeddings [][]float64
	calls      []Request
	embedCalls []string

	// GenerateErr, if set, is returned by every GenerateJSON call.
	GenerateErr error
	// EmbedErr, if set, is returned by every Embed call.
	EmbedErr error
}

// NewScripted builds a scripted backend preloaded with responses.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// QueueResponse appends a canned generation response.
func (s *Scripted) QueueResponse(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, raw)
}

// QueueEmbedding appends a canned embedding vector.
func (s *Scripted) QueueEmbedding(vec []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = append(s.embeddings, vec)
}

// GenerateJSON implements the Service interface.
func (s *Scripted) GenerateJSON(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	if s.GenerateErr != nil {
		return nil, s.GenerateErr
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted backend exhausted after %d calls", len(s.calls))
	}

	raw := s.responses[0]
	s.responses = s.responses[1:]
	return newResponse(raw)
}

// Embed implements the Service interface. When no vector is queued it
// derives a stable 8-dimensional vector from the text so distances are
// deterministic across runs.
func (s *Scripted) Embed(_ context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.embedCalls = append(s.embedCalls, text)

	if s.EmbedErr != nil {
		return nil, s.EmbedErr
	}
	if len(s.embeddings) > 0 {
		vec := s.embeddings[0]
		s.embeddings = s.embeddings[1:]
		return vec, nil
	}

	digest := sha256.Sum256([]byte(text))
	vec := make([]float64, 8)
	for i := range vec {
		vec[i] = float64(digest[i]) / 255
	}
	return vec, nil
}

// Calls returns a copy of every recorded generation request.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// EmbedCalls returns a copy of every recorded embedding input.
func (s *Scripted) EmbedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.embedCalls))
	copy(out, s.embedCalls)
	return out
}
