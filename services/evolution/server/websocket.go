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
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// replayDepth is how many recent events a late joiner receives on connect.
const replayDepth = 64

// writeTimeout bounds every frame write so a stalled client cannot park
// the pump.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// The appliance fronts the API with its own auth layer; origins are
	// not filtered here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  10 * 1024 * 1024,
	WriteBufferSize: 10 * 1024 * 1024,
}

// clientMessage is the inbound envelope, mirroring the outbound event
// schema: hil_response and HIL_FORCE_SYNTHESIZE are accepted.
type clientMessage struct {
	Type events.Type     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsClient serializes writes: the event pump and command replies share
// one connection and gorilla allows a single concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsClient) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

// sendError reports a rejected client message in the event envelope so
// clients handle it with the same decoder as the stream.
func (w *wsClient) sendError(code, message string) {
	data, err := json.Marshal(events.ErrorEvent{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = w.send(events.Event{Type: events.TypeError, Data: data, At: time.Now().UTC()})
}

// handleWebSocket streams the event bus to one client and accepts HIL
// responses and force-synthesize commands back. A slow client is dropped
// by the emitter; the run never waits for the socket.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	em := s.sup.Events()
	id, ch := em.Subscribe()
	s.logger.Info("websocket client connected", "subscriber", id)

	// Replay recent history, then hand over to the live pump. Events
	// published between Subscribe and Replay land in both; the pump
	// skips sequence numbers the replay already delivered.
	var lastSeq uint64
	for _, ev := range em.Replay(replayDepth) {
		if err := client.send(ev); err != nil {
			em.Unsubscribe(id)
			return
		}
		lastSeq = ev.Seq
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Seq <= lastSeq {
				continue
			}
			if err := client.send(ev); err != nil {
				return
			}
		}
		// Channel closed: emitter shut down or this subscriber was
		// dropped for falling behind.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Info("websocket client disconnected", "subscriber", id)
			break
		}
		s.dispatchClientMessage(client, msg)
	}

	em.Unsubscribe(id)
	<-done
}

func (s *Server) dispatchClientMessage(client *wsClient, msg clientMessage) {
	switch msg.Type {
	case events.TypeHILResponse:
		var resp events.HILResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.RequestID == "" {
			client.sendError("bad_request", "hil response requires request_id")
			return
		}
		if err := s.sup.SubmitResponse(resp.RequestID, resp.Response); err != nil {
			client.sendError("unknown_request", err.Error())
		}

	case events.TypeForceSynthesize:
		var fs events.ForceSynthesize
		if err := json.Unmarshal(msg.Data, &fs); err != nil || len(fs.StrategyIDs) == 0 {
			client.sendError("bad_request", "force synthesize requires strategy_ids")
			return
		}
		if err := s.sup.ForceSynthesize(fs.StrategyIDs, fs.Message); err != nil {
			client.sendError("no_active_run", err.Error())
		}

	default:
		client.sendError("bad_request", "unsupported message type: "+string(msg.Type))
	}
}
