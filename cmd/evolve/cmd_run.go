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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEvolve/pkg/ux"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/supervisor"
)

// runOneShot wraps oneShot so deferred cleanup runs before the process
// exits with a failure code.
func runOneShot(cmd *cobra.Command, args []string) {
	if code := oneShot(args); code != 0 {
		os.Exit(code)
	}
}

// oneShot drives a full evolution run in the foreground: it builds the
// provider chain and stores from the operator config, starts the run,
// streams events to the terminal, and answers human gate questions from
// stdin when it is interactive. The exit code is 0 only for a completed
// run.
func oneShot(args []string) int {
	// Stdout belongs to the event stream; logs stay quiet unless asked.
	lcfg := config.Logging
	if !runVerbose {
		lcfg.Level = "warn"
	}
	appLogger := buildLogger(lcfg, "evolve-run")
	defer appLogger.Close()
	logger := appLogger.Slog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCfg, err := loadRunConfig()
	if err != nil {
		ux.Error(fmt.Sprintf("Invalid run config: %v", err))
		return 1
	}

	sp := ux.NewSpinner("Starting provider and stores")
	sp.Start()

	provider, cleanupProvider, err := buildInference(config.Provider, logger)
	if err != nil {
		sp.Stop()
		ux.Error(fmt.Sprintf("Inference backend: %v", err))
		return 1
	}
	defer cleanupProvider()

	kb, err := buildKnowledge(ctx, config.KB, provider, logger)
	if err != nil {
		sp.Stop()
		ux.Error(fmt.Sprintf("Knowledge base: %v", err))
		return 1
	}
	if kb != nil {
		defer kb.Close()
	}

	arc, exporter, err := buildArchive(ctx, config.Archive, logger)
	if err != nil {
		sp.Stop()
		ux.Error(fmt.Sprintf("Run archive: %v", err))
		return 1
	}
	if exporter != nil {
		defer exporter.Close()
	}
	if arc != nil {
		defer arc.Close()
	}

	sp.Stop()

	supCfg := supervisor.Config{
		Inference:              provider,
		SynthesisReviewTimeout: time.Duration(config.HIL.SynthesisReviewSeconds) * time.Second,
		Logger:                 logger,
	}
	// Interface fields stay truly nil when a store is unconfigured.
	if kb != nil {
		supCfg.KB = kb
	}
	if arc != nil {
		supCfg.Archive = arc
	}
	sup, err := supervisor.New(supCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Supervisor: %v", err))
		return 1
	}
	defer sup.Close()

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	interactive := !machine &&
		(isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))

	// Subscribe before Start so the started status is never missed.
	subID, eventCh := sup.Events().Subscribe()
	defer sup.Events().Unsubscribe(subID)

	problem := strings.Join(args, " ")
	runID, err := sup.Start(problem, runCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Starting run: %v", err))
		return 1
	}

	if !machine {
		ux.Title("Evolution run")
		ux.KeyValue("run", runID)
		ux.KeyValue("backend", config.Provider.Backend)
		ux.KeyValue("iterations", fmt.Sprintf("up to %d", runCfg.MaxIterations))
		if !interactive {
			ux.Muted("stdin is not a terminal; human gate questions will time out")
		}
		fmt.Println()
	}

	// First interrupt asks for a graceful stop, the second one kills the
	// process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		ux.Warning("Stopping run, press Ctrl-C again to force quit")
		go func() {
			if err := sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNoActiveRun) {
				logger.Warn("stop failed", "error", err)
			}
		}()
		<-sigCh
		os.Exit(130)
	}()

	var answers chan events.HILRequest
	if interactive {
		answers = make(chan events.HILRequest, 4)
		defer close(answers)
		go answerQuestions(sup, answers)
	}

	printer := newEventPrinter(runCfg.MaxIterations)
	status := ""
loop:
	for ev := range eventCh {
		printer.print(ev)
		switch ev.Type {
		case events.TypeHILRequired:
			if answers != nil {
				var req events.HILRequest
				if err := json.Unmarshal(ev.Data, &req); err == nil {
					select {
					case answers <- req:
					default:
					}
				}
			}
		case events.TypeStatus:
			var sc events.StatusChange
			if err := json.Unmarshal(ev.Data, &sc); err != nil {
				continue
			}
			if sc.Status == events.StatusCompleted || sc.Status == events.StatusStopped {
				status = sc.Status
				break loop
			}
		}
	}

	// The terminal status publishes before the record lands in the
	// archive; Stop waits for the run goroutine to finish both.
	if err := sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNoActiveRun) {
		logger.Warn("waiting for run teardown", "error", err)
	}

	if arc != nil && !machine {
		if rec, err := arc.Get(ctx, runID); err == nil {
			fmt.Println()
			ux.KeyValue("status", rec.Status)
			ux.KeyValue("iterations", fmt.Sprintf("%d", rec.Iterations))
			ux.KeyValue("elapsed", rec.EndedAt.Sub(rec.StartedAt).Round(time.Second).String())
			ux.KeyValue("archive", expandHome(config.Archive.Dir))
		}
	}

	if status == events.StatusCompleted {
		return 0
	}
	return 1
}

// loadRunConfig layers the --run-config file and per-run flags over the
// built-in defaults. Validation happens when the supervisor starts the
// run.
func loadRunConfig() (state.Config, error) {
	cfg := state.DefaultConfig()
	if runConfigFile != "" {
		raw, err := os.ReadFile(runConfigFile)
		if err != nil {
			return cfg, fmt.Errorf("reading %s: %w", runConfigFile, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", runConfigFile, err)
		}
	}
	if runIterations > 0 {
		cfg.MaxIterations = runIterations
	}
	if runBudget > 0 {
		cfg.TotalChildBudget = runBudget
	}
	return cfg, nil
}

// answerQuestions reads one terminal line per pending question. An answer
// that arrives after its question expired is rejected by the supervisor
// and dropped here.
func answerQuestions(sup *supervisor.Supervisor, reqs <-chan events.HILRequest) {
	reader := bufio.NewReader(os.Stdin)
	for req := range reqs {
		fmt.Print(ux.Styles.Highlight.Render("> "))
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if err := sup.SubmitResponse(req.RequestID, strings.TrimSpace(line)); err != nil {
			ux.Muted("answer discarded: " + err.Error())
		}
	}
}
