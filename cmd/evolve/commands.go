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

	"github.com/AleutianAI/AleutianEvolve/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	configFile       string // --config override for ~/.evolve/evolve.yaml

	serveAddr string

	runIterations int
	runBudget     int
	runConfigFile string
	runVerbose    bool

	watchServer string

	kbType     string
	kbLimit    int
	kbSemantic bool

	rootCmd = &cobra.Command{
		Use:   "evolve",
		Short: "Run and observe the Aleutian evolutionary reasoning appliance",
		Long: `Evolve manages a population of competing strategies for a hard open-ended
				problem: research, generation, judging, thermodynamic selection, and
				synthesis, with a human kept in the loop. Use serve to run the appliance
				daemon, run for a one-shot local run, and watch for the live console.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			var err error
			config, err = LoadConfig(configFile)
			if err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
		},
	}

	// --- Daemon ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the evolution daemon (HTTP API, WebSocket stream, metrics)",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- One-shot run ---
	runCmd = &cobra.Command{
		Use:   "run [problem]",
		Short: "Run one evolution to completion and stream its events to stdout",
		Long: `Run builds the provider and stores from the config file, starts a single
				evolution for the given problem, and prints events until the run
				reaches a terminal state. Human gate questions are asked on the
				terminal when stdin is interactive; otherwise they time out and the
				run proceeds on best judgment.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runOneShot, // Defined in cmd_run.go
	}

	// --- Live console ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Attach a live console to a running evolve daemon",
		Run:   runWatch, // Defined in cmd_watch.go
	}

	// --- Knowledge base ---
	kbCmd = &cobra.Command{
		Use:   "kb",
		Short: "Query the local cross-run knowledge base",
	}
	kbSearchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search archived lessons and strategy branches",
		Args:  cobra.MinimumNArgs(1),
		Run:   runKBSearch, // Defined in cmd_kb.go
	}
	kbShowCmd = &cobra.Command{
		Use:   "show [record-id]",
		Short: "Print one knowledge record in full",
		Args:  cobra.ExactArgs(1),
		Run:   runKBShow, // Defined in cmd_kb.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the evolve config file (default ~/.evolve/evolve.yaml)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address override (e.g. :8080)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "Cap on evolution cycles (0 keeps the default)")
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "Children distributed per evolution round (0 keeps the default)")
	runCmd.Flags().StringVar(&runConfigFile, "run-config", "", "YAML file of run parameters overlaid on the defaults")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Show info-level logs alongside the event stream")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchServer, "server", "", "Daemon base URL (default derived from server.addr in the config)")

	rootCmd.AddCommand(kbCmd)
	kbCmd.AddCommand(kbSearchCmd)
	kbSearchCmd.Flags().StringVar(&kbType, "type", "", "Restrict to a record type (experience, strategy_archive, lesson_learned, heuristic)")
	kbSearchCmd.Flags().IntVar(&kbLimit, "limit", 10, "Maximum results")
	kbSearchCmd.Flags().BoolVar(&kbSemantic, "semantic", false, "Embed the query with the configured provider instead of substring match")
	kbCmd.AddCommand(kbShowCmd)

	rootCmd.AddCommand(versionCmd)
}
