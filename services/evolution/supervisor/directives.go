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
	"errors"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/nodes"
)

// directiveQueue is the FIFO behind nodes.DirectiveQueue. The scheduler
// drains it at the top of every architect pass.
type directiveQueue struct {
	mu    sync.Mutex
	items []nodes.SynthesisDirective
}

func newDirectiveQueue() *directiveQueue {
	return &directiveQueue{}
}

func (q *directiveQueue) push(d nodes.SynthesisDirective) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, d)
}

// Drain implements nodes.DirectiveQueue.
func (q *directiveQueue) Drain() []nodes.SynthesisDirective {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *directiveQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// ForceSynthesize queues an operator command to fold the named strategies
// into the report on the next scheduling pass. The command is mirrored to
// the event stream so every client sees the override, and it bypasses the
// human review gate.
func (s *Supervisor) ForceSynthesize(strategyIDs []string, message string) error {
	if len(strategyIDs) == 0 {
		return errors.New("supervisor: at least one strategy id is required")
	}
	s.mu.Lock()
	active := s.active != nil
	s.mu.Unlock()
	if !active {
		return ErrNoActiveRun
	}

	ids := append([]string(nil), strategyIDs...)
	message = strings.TrimSpace(message)
	s.directives.push(nodes.SynthesisDirective{StrategyIDs: ids, Message: message})
	s.emitter.Publish(events.TypeForceSynthesize, events.ForceSynthesize{StrategyIDs: ids, Message: message})
	s.logger.Info("operator forced synthesis", "strategies", len(ids))
	return nil
}
