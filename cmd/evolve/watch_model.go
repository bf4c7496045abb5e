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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianEvolve/pkg/ux"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// scrollbackCap bounds the in-memory event log; old lines fall off the top.
const scrollbackCap = 2000

// Messages produced by the websocket commands.
type (
	wsConnectedMsg struct{ conn *websocket.Conn }
	wsEventMsg     struct{ ev events.Event }
	wsClosedMsg    struct{ err error }
	wsSentMsg      struct{ err error }
)

// watchModel is the live console: a scrollback of run events fed by the
// daemon's websocket, with a form raised over it when the run asks for
// human input. The socket is read one frame per command so every frame
// passes through Update and the scrollback stays single-writer.
type watchModel struct {
	wsURL string
	conn  *websocket.Conn

	spin  spinner.Model
	vp    viewport.Model
	lines []string
	ready bool

	status    string
	agent     string
	iteration int

	// form is non-nil while a human gate question is on screen.
	form   *huh.Form
	hil    *events.HILRequest
	answer string

	err  error
	done bool
}

func newWatchModel(wsURL string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ux.Styles.Subtitle
	return watchModel{
		wsURL:  wsURL,
		spin:   sp,
		status: "connecting",
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, connectSocket(m.wsURL))
}

// connectSocket dials the daemon. The replayed history arrives as ordinary
// frames once the read loop starts.
func connectSocket(url string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return wsClosedMsg{err: fmt.Errorf("dialing %s: %w", url, err)}
		}
		return wsConnectedMsg{conn: conn}
	}
}

// readFrame reads the next event off the socket.
func readFrame(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return wsClosedMsg{err: err}
		}
		return wsEventMsg{ev: ev}
	}
}

// sendResponse answers a human gate question over the same socket the
// events arrive on; the daemon accepts hil_response frames inbound.
func sendResponse(conn *websocket.Conn, requestID, answer string) tea.Cmd {
	return func() tea.Msg {
		data, err := json.Marshal(events.HILResponse{RequestID: requestID, Response: answer})
		if err != nil {
			return wsSentMsg{err: err}
		}
		msg := struct {
			Type events.Type     `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: events.TypeHILResponse, Data: data}
		return wsSentMsg{err: conn.WriteJSON(msg)}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerH, footerH := 2, 2
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerH-footerH)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerH - footerH
		}
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
		if m.form != nil {
			m.form = m.form.WithWidth(m.formWidth())
		}
		return m, nil

	case tea.KeyMsg:
		// The form owns the keyboard while a question is up.
		if m.form == nil {
			switch msg.String() {
			case "q", "ctrl+c", "esc":
				if m.conn != nil {
					m.conn.Close()
				}
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case wsConnectedMsg:
		m.conn = msg.conn
		m.status = "connected"
		m.append(ux.Styles.Muted.Render("connected to " + m.wsURL))
		return m, readFrame(m.conn)

	case wsEventMsg:
		cmd := m.apply(msg.ev)
		return m, tea.Batch(readFrame(m.conn), cmd)

	case wsClosedMsg:
		if m.done {
			// Expected close after a terminal status.
			return m, nil
		}
		m.err = msg.err
		m.status = "disconnected"
		m.append(ux.Styles.Error.Render("connection lost: " + msg.err.Error()))
		return m, nil

	case wsSentMsg:
		if msg.err != nil {
			m.append(ux.Styles.Warning.Render("answer not delivered: " + msg.err.Error()))
		}
		return m, nil
	}

	if m.form != nil {
		f, cmd := m.form.Update(msg)
		if next, ok := f.(*huh.Form); ok {
			m.form = next
		}
		switch m.form.State {
		case huh.StateCompleted:
			req := m.hil
			answer := strings.TrimSpace(m.answer)
			m.form, m.hil, m.answer = nil, nil, ""
			if req != nil && answer != "" && m.conn != nil {
				m.append(ux.Styles.Highlight.Render("› ") + answer)
				return m, sendResponse(m.conn, req.RequestID, answer)
			}
			m.append(ux.Styles.Muted.Render("question dismissed; the run decides on its own"))
			return m, nil
		case huh.StateAborted:
			m.form, m.hil, m.answer = nil, nil, ""
			m.append(ux.Styles.Muted.Render("question dismissed; the run decides on its own"))
			return m, nil
		}
		return m, cmd
	}
	return m, nil
}

// apply folds one event into the scrollback and side state. It returns a
// command only when the event raises the human gate form.
func (m *watchModel) apply(ev events.Event) tea.Cmd {
	stamp := ux.Styles.Muted.Render(ev.At.Local().Format("15:04:05"))

	switch ev.Type {
	case events.TypeStatus:
		var sc events.StatusChange
		if json.Unmarshal(ev.Data, &sc) != nil {
			return nil
		}
		m.status = sc.Status
		switch sc.Status {
		case events.StatusStarted:
			m.append(fmt.Sprintf("%s %s run %s started", stamp, ux.Styles.StatusPending.String(), sc.RunID))
		case events.StatusCompleted:
			m.done = true
			m.append(fmt.Sprintf("%s %s %s", stamp, ux.Styles.StatusOK.String(), ux.Styles.Success.Render("run completed")))
		case events.StatusStopped:
			m.done = true
			m.append(fmt.Sprintf("%s %s %s", stamp, ux.Styles.StatusWarning.String(), ux.Styles.Warning.Render("run stopped")))
		}

	case events.TypeStateUpdate:
		var su events.StateUpdate
		if json.Unmarshal(ev.Data, &su) != nil {
			return nil
		}
		if su.IterationCount != m.iteration {
			m.iteration = su.IterationCount
			m.append("")
			m.append(fmt.Sprintf("%s %s", stamp, ux.Styles.Bold.Render(fmt.Sprintf("Iteration %d", su.IterationCount))))
		}
		if line := physicsLine(su); line != "" {
			m.append("  " + ux.Styles.Muted.Render(line))
		}

	case events.TypeAgentStart:
		var as events.AgentStart
		if json.Unmarshal(ev.Data, &as) != nil {
			return nil
		}
		m.agent = as.Agent
		m.append(fmt.Sprintf("%s %s %s %s", stamp, ux.Styles.Subtitle.Render("→"), ux.Styles.Bold.Render(as.Agent), as.Message))

	case events.TypeAgentProgress:
		var ap events.AgentProgress
		if json.Unmarshal(ev.Data, &ap) != nil {
			return nil
		}
		m.append("  " + ux.Styles.Muted.Render("· "+ap.Message))

	case events.TypeAgentComplete:
		var ac events.AgentComplete
		if json.Unmarshal(ev.Data, &ac) != nil {
			return nil
		}
		m.agent = ""
		m.append(fmt.Sprintf("%s %s %s %s", stamp, ux.Styles.StatusOK.String(), ux.Styles.Bold.Render(ac.Agent), ac.Message))

	case events.TypeHILRequired:
		var req events.HILRequest
		if json.Unmarshal(ev.Data, &req) != nil {
			return nil
		}
		m.append(fmt.Sprintf("%s %s %s", stamp, ux.Styles.StatusWarning.String(),
			ux.Styles.Warning.Render("human input needed: "+req.Agent)))
		// Only the newest question gets the form; an expired one is
		// rejected by the daemon and reported back on submit.
		m.hil = &req
		m.answer = ""
		desc := req.Context
		if desc != "" {
			desc += "\n\n"
		}
		desc += fmt.Sprintf("The run continues on its own after %ds.", req.TimeoutSeconds)
		m.form = huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title(req.Question).
				Description(desc).
				Value(&m.answer),
		)).WithWidth(m.formWidth())
		return m.form.Init()

	case events.TypeForceSynthesize:
		var fs events.ForceSynthesize
		if json.Unmarshal(ev.Data, &fs) != nil {
			return nil
		}
		msg := "synthesis forced"
		if len(fs.StrategyIDs) > 0 {
			msg += " for " + strings.Join(fs.StrategyIDs, ", ")
		}
		m.append(fmt.Sprintf("%s %s %s", stamp, ux.Styles.StatusWarning.String(), ux.Styles.Warning.Render(msg)))

	case events.TypeFinalReport:
		var fr events.FinalReport
		if json.Unmarshal(ev.Data, &fr) != nil {
			return nil
		}
		m.append("")
		m.append(ux.Styles.Box.Width(m.formWidth()).Render(
			ux.Styles.Title.Render(fmt.Sprintf("FINAL REPORT (v%d)", fr.Version)) + "\n" + fr.Report))

	case events.TypeError:
		var ee events.ErrorEvent
		if json.Unmarshal(ev.Data, &ee) != nil {
			return nil
		}
		msg := ee.Message
		if ee.Node != "" {
			msg = "[" + ee.Node + "] " + msg
		}
		m.append(fmt.Sprintf("%s %s %s", stamp, ux.Styles.StatusError.String(), ux.Styles.Error.Render(msg)))
	}
	return nil
}

// formWidth fits boxes and forms to the terminal, capped for readability.
func (m *watchModel) formWidth() int {
	if m.ready && m.vp.Width > 8 {
		return min(m.vp.Width-4, 76)
	}
	return 76
}

func (m *watchModel) append(lines ...string) {
	for _, line := range lines {
		m.lines = append(m.lines, line)
	}
	if len(m.lines) > scrollbackCap {
		m.lines = m.lines[len(m.lines)-scrollbackCap:]
	}
	if m.ready {
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
	}
}

func (m watchModel) View() string {
	if !m.ready {
		return m.spin.View() + " connecting to " + m.wsURL
	}

	header := ux.Styles.Title.Render("evolve watch") + "  " + ux.Styles.Muted.Render(m.wsURL)
	var b strings.Builder
	b.WriteString(header + "\n\n")
	b.WriteString(m.vp.View() + "\n")

	if m.form != nil {
		b.WriteString("\n" + m.form.View())
		return b.String()
	}

	footer := m.statusLine()
	b.WriteString("\n" + footer)
	return b.String()
}

func (m watchModel) statusLine() string {
	var left string
	switch {
	case m.err != nil:
		left = ux.Styles.Error.Render(m.status)
	case m.done:
		left = ux.Styles.Success.Render(m.status)
	case m.agent != "":
		left = m.spin.View() + ux.Styles.Subtitle.Render(m.agent)
	default:
		left = m.spin.View() + ux.Styles.Muted.Render(m.status)
	}
	return left + "  " + ux.Styles.Muted.Render("q quits · arrows scroll")
}
