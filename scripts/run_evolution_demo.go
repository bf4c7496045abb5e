//go:build ignore

// Demo script driving a full evolution cycle against the scripted backend:
// no provider, no network. Run with: go run scripts/run_evolution_demo.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/engine"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/nodes"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║              EVOLUTION ENGINE END-TO-END DEMO                     ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")

	// 1. Knowledge base in a scratch directory
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 1: Opening a scratch knowledge base                        │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	kbDir, err := os.MkdirTemp("", "evolve-demo-kb-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(kbDir)

	backend := demoBackend()
	kb, err := knowledge.New(knowledge.Config{Dir: kbDir, Embedder: backend, Logger: logger})
	if err != nil {
		log.Fatalf("knowledge base: %v", err)
	}
	defer kb.Close()
	fmt.Printf("  ✓ Knowledge base at %s\n", kbDir)

	// 2. Graph + engine with a streaming emitter
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 2: Building the agent graph                                │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	graph, err := nodes.BuildGraph(nodes.Deps{Inference: backend, KB: kb, Logger: logger})
	if err != nil {
		log.Fatalf("BuildGraph: %v", err)
	}
	emitter := events.NewEmitter(logger)
	defer emitter.Close()
	eng, err := engine.New(graph, engine.WithEmitter(emitter), engine.WithLogger(logger))
	if err != nil {
		log.Fatalf("engine.New: %v", err)
	}
	fmt.Printf("  ✓ Graph %q with %d nodes, entry %s\n", graph.Name(), graph.NodeCount(), graph.Entry())

	_, ch := emitter.Subscribe()
	go printEvents(ch)

	// 3. One full evolution cycle
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 3: Running one evolution cycle                             │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	cfg := state.DefaultConfig()
	cfg.MaxIterations = 1
	st := state.New("Enter the regional specialty-coffee market", cfg)

	if err := eng.Run(ctx, st); err != nil {
		log.Fatalf("engine.Run: %v", err)
	}
	fmt.Printf("\n  ✓ Converged after %d iteration(s), %d strategies\n", st.IterationCount, len(st.Strategies))
	for i := range st.Strategies {
		s := &st.Strategies[i]
		fmt.Printf("    - %-20s score=%.2f density=%s ucb=%s quota=%d\n",
			s.Name, s.Score, fmtPtr(s.Density), fmtPtr(s.UCBScore), s.ChildQuota)
	}

	// 4. Synthesis + hard prune through the Executor
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 4: Synthesizing the survivors into a report                │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	var ids []string
	for i := range st.Strategies {
		if st.Strategies[i].Status == state.StatusActive {
			ids = append(ids, st.Strategies[i].ID)
		}
	}
	if len(ids) != 2 {
		log.Fatalf("expected 2 active strategies, have %d", len(ids))
	}
	st.ArchitectDecisions = []state.Decision{{
		Kind:                state.DecisionSynthesize,
		SynthesisIDs:        ids,
		ExecutorInstruction: "Fold both framings into one report.",
	}}
	backend.QueueResponse(fmt.Sprintf(`{
		"final_report": "Enter through the premium single-origin niche; expand to volume blends once the roastery runs at capacity.",
		"branch_rationales": {
			"%s": "Contributed the premium positioning and pricing analysis.",
			"%s": "Contributed the supply chain and capacity analysis."
		}
	}`, ids[0], ids[1]))

	executor := nodes.NewExecutor(nodes.Deps{Inference: backend, KB: kb, Logger: logger})
	delta, err := executor.Run(ctx, st)
	if err != nil {
		log.Fatalf("executor: %v", err)
	}
	st.Apply(delta)
	fmt.Printf("  ✓ Report v%d: %s\n", st.ReportVersion, st.FinalReport)
	for _, id := range ids {
		s := st.StrategyByID(id)
		fmt.Printf("    - %-20s status=%s pruned_at=v%d\n", s.Name, s.Status, s.PrunedAtReportVersion)
	}

	// 5. The archived branches are recallable
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 5: Recalling the archived branches                         │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	entries, err := kb.Search(ctx, knowledge.Query{Text: "Synthesis", Type: knowledge.TypeBranchArchive, Limit: 5})
	if err != nil {
		log.Fatalf("kb search: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("  ✓ %-35s d=%.3f  %s\n", e.Title, e.Distance, e.Content)
	}
	if len(entries) == 0 {
		fmt.Printf("  ✓ %d records on disk (outside the recall radius for this query)\n", kb.Len())
	}

	fmt.Println("\n  Demo complete.")
}

// demoBackend scripts one research round, two strategies, and a judge pass.
// The synthesis reply is queued later, once the strategy ids exist.
func demoBackend() *inference.Scripted {
	return inference.NewScripted(
		`{"subtasks": ["size the market", "map the competition"],
		  "information_needs": [{"topic": "regional demand", "type": "factual", "priority": 5}]}`,
		`{"research_context": "Demand concentrates in two urban clusters; premium beans are undersupplied.",
		  "information_status": "sufficient"}`,
		"Two urban clusters drive demand; the premium segment is undersupplied.",
		`{"strategies": [
			{"strategy_name": "Premium niche first", "rationale": "Undersupplied segment with pricing power.", "initial_assumption": "Quality commands a margin."},
			{"strategy_name": "Volume blends first", "rationale": "Scale wins distribution.", "initial_assumption": "Shelf space is the moat."}
		]}`,
		`{"scores": {"unknown": 0.5}}`,
	)
}

func printEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.TypeAgentStart:
			var as events.AgentStart
			if json.Unmarshal(ev.Data, &as) == nil {
				fmt.Printf("  → %-20s %s\n", as.Agent, as.Message)
			}
		case events.TypeStateUpdate:
			var su events.StateUpdate
			if json.Unmarshal(ev.Data, &su) == nil && su.SpatialEntropy != nil {
				fmt.Printf("    entropy=%.3f T_eff=%s tau=%s\n",
					*su.SpatialEntropy, fmtPtr(su.EffectiveTemperature), fmtPtr(su.NormalizedTemperature))
			}
		}
	}
}

func fmtPtr(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *p)
}
