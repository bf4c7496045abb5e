// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRingSize         = 256
	defaultSubscriberBuffer = 64
)

type subscriber struct {
	id string
	ch chan Event
}

// Emitter fans events out to subscribers over buffered channels and keeps a
// replay ring of recent events for late joiners.
//
// Publishing never blocks: a subscriber whose buffer is full is logged and
// dropped so one slow WebSocket cannot stall the run. Per-subscriber
// ordering is preserved; cross-subscriber ordering is not guaranteed.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	ring   []Event
	ringAt int
	seq    uint64
	buffer int
	closed bool
	logger *slog.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithRingSize sets how many recent events Replay can return.
func WithRingSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.ring = make([]Event, 0, n)
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel depth.
func WithSubscriberBuffer(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// NewEmitter creates an emitter. A nil logger falls back to slog.Default.
func NewEmitter(logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		subs:   make(map[string]*subscriber),
		ring:   make([]Event, 0, defaultRingSize),
		buffer: defaultSubscriberBuffer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a new subscriber and returns its id plus the channel
// events arrive on. The channel is closed on Unsubscribe, on delivery
// failure, or when the emitter itself closes.
func (e *Emitter) Subscribe() (string, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, e.buffer),
	}
	if e.closed {
		close(sub.ch)
		return sub.id, sub.ch
	}
	e.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.subs[id]
	if !ok {
		return false
	}
	delete(e.subs, id)
	close(sub.ch)
	return true
}

// SubscriberCount returns the number of live subscribers.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Publish marshals data and delivers the event to every subscriber. On
// marshal failure the event is logged and not delivered; on a full
// subscriber buffer that subscriber is logged and dropped.
func (e *Emitter) Publish(eventType Type, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			e.logger.Error("event payload not serializable, dropping event",
				"event_type", string(eventType), "error", err)
			return
		}
		raw = b
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	ev := Event{Type: eventType, Data: raw, Seq: e.seq, At: time.Now().UTC()}

	if cap(e.ring) > 0 {
		if len(e.ring) < cap(e.ring) {
			e.ring = append(e.ring, ev)
		} else {
			e.ring[e.ringAt] = ev
			e.ringAt = (e.ringAt + 1) % cap(e.ring)
		}
	}

	var dropped []*subscriber
	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(e.subs, sub.id)
		close(sub.ch)
	}
	e.mu.Unlock()

	for _, sub := range dropped {
		e.logger.Warn("subscriber not draining, dropped",
			"subscriber_id", sub.id, "event_type", string(eventType))
	}
}

// Replay returns up to n most recent events, oldest first.
func (e *Emitter) Replay(n int) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if n <= 0 || len(e.ring) == 0 {
		return nil
	}

	ordered := make([]Event, 0, len(e.ring))
	if len(e.ring) < cap(e.ring) {
		ordered = append(ordered, e.ring...)
	} else {
		ordered = append(ordered, e.ring[e.ringAt:]...)
		ordered = append(ordered, e.ring[:e.ringAt]...)
	}
	if n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Close drops every subscriber and rejects further publishes. Idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.ch)
	}
}

// =============================================================================
// Test Collector
// =============================================================================

// Collector subscribes to an emitter and accumulates everything it
// receives. Test helper.
type Collector struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	id     string
}

// NewCollector attaches a collector to the emitter.
func NewCollector(e *Emitter) *Collector {
	id, ch := e.Subscribe()
	c := &Collector{done: make(chan struct{}), id: id}
	go func() {
		defer close(c.done)
		for ev := range ch {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
	return c
}

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ByType filters collected events by type.
func (c *Collector) ByType(t Type) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Wait blocks until the collector's channel closes (emitter closed or
// subscriber dropped).
func (c *Collector) Wait() {
	<-c.done
}
