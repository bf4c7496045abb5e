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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianEvolve/pkg/ux"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
)

// eventPrinter renders the run event stream for a terminal. Machine mode
// emits one JSON envelope per line instead; the other levels trade detail
// for quiet (minimal shows iterations and outcomes, standard adds agent
// activity, full adds progress and the selection physics).
type eventPrinter struct {
	maxIterations int
	lastIteration int
}

func newEventPrinter(maxIterations int) *eventPrinter {
	return &eventPrinter{maxIterations: maxIterations}
}

// detailRank orders the personality levels for stream filtering.
func detailRank(l ux.PersonalityLevel) int {
	switch l {
	case ux.PersonalityFull:
		return 3
	case ux.PersonalityStandard:
		return 2
	case ux.PersonalityMinimal:
		return 1
	default:
		return 0
	}
}

func (p *eventPrinter) print(ev events.Event) {
	pers := ux.GetPersonality()
	if pers.Level == ux.PersonalityMachine {
		line, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(line))
		return
	}

	prefix := ""
	if pers.ShowTimestamps {
		prefix = ux.Styles.Muted.Render(ev.At.Local().Format("15:04:05")) + " "
	}
	rank := detailRank(pers.Level)

	switch ev.Type {
	case events.TypeStatus:
		var sc events.StatusChange
		if json.Unmarshal(ev.Data, &sc) != nil {
			return
		}
		switch sc.Status {
		case events.StatusStarted:
			fmt.Printf("%s%s run %s started\n", prefix, ux.Styles.StatusPending.String(), sc.RunID)
		case events.StatusCompleted:
			fmt.Printf("%s%s %s\n", prefix, ux.Styles.StatusOK.String(), ux.Styles.Success.Render("run completed"))
		case events.StatusStopped:
			fmt.Printf("%s%s %s\n", prefix, ux.Styles.StatusWarning.String(), ux.Styles.Warning.Render("run stopped"))
		}

	case events.TypeStateUpdate:
		var su events.StateUpdate
		if json.Unmarshal(ev.Data, &su) != nil {
			return
		}
		if su.IterationCount != p.lastIteration {
			p.lastIteration = su.IterationCount
			bar := ux.ProgressBar(su.IterationCount, p.maxIterations, 24)
			fmt.Printf("\n%s%s %s\n", prefix,
				ux.Styles.Bold.Render(fmt.Sprintf("Iteration %d/%d", su.IterationCount, p.maxIterations)), bar)
		}
		if rank >= 3 {
			if line := physicsLine(su); line != "" {
				fmt.Printf("%s  %s\n", prefix, ux.Styles.Muted.Render(line))
			}
		}

	case events.TypeAgentStart:
		if rank < 2 {
			return
		}
		var as events.AgentStart
		if json.Unmarshal(ev.Data, &as) != nil {
			return
		}
		fmt.Printf("%s%s %s %s\n", prefix, ux.Styles.Subtitle.Render("→"), ux.Styles.Bold.Render(as.Agent), as.Message)

	case events.TypeAgentProgress:
		if rank < 3 {
			return
		}
		var ap events.AgentProgress
		if json.Unmarshal(ev.Data, &ap) != nil {
			return
		}
		fmt.Printf("%s  %s\n", prefix, ux.Styles.Muted.Render("· "+ap.Message))

	case events.TypeAgentComplete:
		if rank < 2 {
			return
		}
		var ac events.AgentComplete
		if json.Unmarshal(ev.Data, &ac) != nil {
			return
		}
		fmt.Printf("%s%s %s %s\n", prefix, ux.Styles.StatusOK.String(), ux.Styles.Bold.Render(ac.Agent), ac.Message)

	case events.TypeHILRequired:
		var req events.HILRequest
		if json.Unmarshal(ev.Data, &req) != nil {
			return
		}
		content := req.Question
		if req.Context != "" {
			content += "\n\n" + req.Context
		}
		content += fmt.Sprintf("\n\nThe run continues on its own after %ds.", req.TimeoutSeconds)
		ux.Box("Human input needed: "+req.Agent, content)

	case events.TypeForceSynthesize:
		var fs events.ForceSynthesize
		if json.Unmarshal(ev.Data, &fs) != nil {
			return
		}
		msg := "synthesis forced"
		if len(fs.StrategyIDs) > 0 {
			msg += " for " + strings.Join(fs.StrategyIDs, ", ")
		}
		fmt.Printf("%s%s %s\n", prefix, ux.Styles.StatusWarning.String(), ux.Styles.Warning.Render(msg))

	case events.TypeFinalReport:
		var fr events.FinalReport
		if json.Unmarshal(ev.Data, &fr) != nil {
			return
		}
		fmt.Println()
		ux.Box(fmt.Sprintf("FINAL REPORT (v%d)", fr.Version), fr.Report)

	case events.TypeError:
		var ee events.ErrorEvent
		if json.Unmarshal(ev.Data, &ee) != nil {
			return
		}
		msg := ee.Message
		if ee.Node != "" {
			msg = "[" + ee.Node + "] " + msg
		}
		ux.Error(msg)
	}
}

// physicsLine summarizes the selection state after a node boundary.
func physicsLine(su events.StateUpdate) string {
	parts := make([]string, 0, 4)
	if su.SpatialEntropy != nil {
		parts = append(parts, fmt.Sprintf("entropy %.3f", *su.SpatialEntropy))
	}
	if su.EffectiveTemperature != nil {
		parts = append(parts, fmt.Sprintf("T_eff %.3f", *su.EffectiveTemperature))
	}
	if su.NormalizedTemperature != nil {
		parts = append(parts, fmt.Sprintf("tau %.3f", *su.NormalizedTemperature))
	}
	if len(su.StrategyCounts) > 0 {
		keys := make([]string, 0, len(su.StrategyCounts))
		for k := range su.StrategyCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		counts := make([]string, 0, len(keys))
		for _, k := range keys {
			counts = append(counts, fmt.Sprintf("%s=%d", k, su.StrategyCounts[k]))
		}
		parts = append(parts, strings.Join(counts, " "))
	}
	return strings.Join(parts, "  ")
}
