// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The evolve command is the appliance CLI: the daemon (serve), one-shot
// local runs (run), the live console (watch), and knowledge base queries
// (kb). Configuration comes from ~/.evolve/evolve.yaml, created with
// defaults on first use.
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// Build metadata, injected via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var config Config

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("evolve %s (commit %s, built %s)\n", version, commit, date)
}
