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
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// runWatch opens the live console against a running evolve daemon. The
// console streams run events into a scrollback pane and raises a form
// when the run asks for human input.
func runWatch(cmd *cobra.Command, args []string) {
	base := serverBaseURL(watchServer)
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	p := tea.NewProgram(newWatchModel(wsURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running watch console: %v", err)
	}
}
