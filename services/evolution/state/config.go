// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Coupling and Thinking Modes
// =============================================================================

// CouplingMode selects how Propagation derives the generation temperature.
type CouplingMode string

const (
	// CouplingAuto ties the LLM temperature to the normalized evolutionary
	// temperature: llm_temp = clip(tau, 0, 2).
	CouplingAuto CouplingMode = "auto"

	// CouplingManual pins the LLM temperature to ManualLLMTemperature,
	// keeping generation independent of the population's thermodynamics.
	CouplingManual CouplingMode = "manual"
)

// ThinkingLevel is passed through to the inference service untouched.
type ThinkingLevel string

const (
	ThinkingLow    ThinkingLevel = "LOW"
	ThinkingMedium ThinkingLevel = "MEDIUM"
	ThinkingHigh   ThinkingLevel = "HIGH"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// configValidate is the validator instance for run configuration.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// =============================================================================
// Config
// =============================================================================

// Config holds every knob a run recognizes. Zero values mean "use default";
// callers should go through ApplyDefaults before Validate.
//
// # Fields
//
//   - MaxIterations: hard cap on evolution cycles.
//   - EntropyChangeThreshold: relative spatial-entropy change below which
//     the run converges.
//   - TotalChildBudget: children distributed across all active parents per
//     round by Boltzmann allocation.
//   - TMax: temperature normalizer; tau = T_eff / TMax.
//   - CExplore: UCB exploration constant.
//   - BeamWidth: post-allocation cap on how many parents keep a non-zero
//     quota; 0 disables the cap.
//   - MinAllocation: per-parent quota floor applied after rounding.
//   - MaxResearchIterations: Researcher loop cap.
//   - DistillThreshold: token estimate above which judge-context
//     distillation triggers.
//   - TemperatureCoupling / ManualLLMTemperature: Propagation temperature
//     source (see CouplingMode).
//   - PropagationTempFloor: lower bound on the generation temperature to
//     preserve diversity under cold populations.
//   - ChildrenPerParent: fallback quota when allocation has never run.
//   - ThinkingLevel / ThinkingBudget: passed through to the inference
//     service.
//   - MaxNodeVisits: graph recursion ceiling; exceeding it terminates the
//     run as exhausted.
//   - EmbedConcurrency: bounded fan-out for embedding calls.
//   - HistoryRetention: per-run history truncation; 0 keeps everything.
type Config struct {
	MaxIterations          int           `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	EntropyChangeThreshold float64       `json:"entropy_change_threshold" yaml:"entropy_change_threshold" validate:"gt=0,lte=1"`
	TotalChildBudget       int           `json:"total_child_budget" yaml:"total_child_budget" validate:"gte=1"`
	TMax                   float64       `json:"t_max" yaml:"t_max" validate:"gt=0"`
	CExplore               float64       `json:"c_explore" yaml:"c_explore" validate:"gte=0"`
	BeamWidth              int           `json:"beam_width" yaml:"beam_width" validate:"gte=0"`
	MinAllocation          int           `json:"min_allocation" yaml:"min_allocation" validate:"gte=0"`
	MaxResearchIterations  int           `json:"max_research_iterations" yaml:"max_research_iterations" validate:"gte=0"`
	DistillThreshold       int           `json:"distill_threshold" yaml:"distill_threshold" validate:"gte=1"`
	TemperatureCoupling    CouplingMode  `json:"temperature_coupling" yaml:"temperature_coupling" validate:"oneof=auto manual"`
	ManualLLMTemperature   float64       `json:"manual_llm_temperature" yaml:"manual_llm_temperature" validate:"gte=0,lte=2"`
	PropagationTempFloor   float64       `json:"propagation_temp_floor" yaml:"propagation_temp_floor" validate:"gte=0,lte=2"`
	ChildrenPerParent      int           `json:"children_per_parent" yaml:"children_per_parent" validate:"gte=0"`
	ThinkingLevel          ThinkingLevel `json:"thinking_level" yaml:"thinking_level" validate:"oneof=LOW MEDIUM HIGH"`
	ThinkingBudget         int           `json:"thinking_budget" yaml:"thinking_budget" validate:"gte=0"`
	EpsilonThreshold       float64       `json:"epsilon_threshold" yaml:"epsilon_threshold" validate:"gt=0"`
	MaxNodeVisits          int           `json:"max_node_visits" yaml:"max_node_visits" validate:"gte=1"`
	EmbedConcurrency       int           `json:"embed_concurrency" yaml:"embed_concurrency" validate:"gte=1"`
	HistoryRetention       int           `json:"history_retention" yaml:"history_retention" validate:"gte=0"`
}

// DefaultConfig returns the documented defaults. EVOLVE_HISTORY_RETENTION
// overrides the history window when set to a non-negative integer.
func DefaultConfig() Config {
	cfg := Config{
		MaxIterations:          10,
		EntropyChangeThreshold: 0.05,
		TotalChildBudget:       6,
		TMax:                   2.0,
		CExplore:               1.0,
		BeamWidth:              3,
		MinAllocation:          0,
		MaxResearchIterations:  3,
		DistillThreshold:       4000,
		TemperatureCoupling:    CouplingAuto,
		ManualLLMTemperature:   1.0,
		PropagationTempFloor:   0.1,
		ChildrenPerParent:      2,
		ThinkingLevel:          ThinkingHigh,
		ThinkingBudget:         1024,
		EpsilonThreshold:       1.0,
		MaxNodeVisits:          100,
		EmbedConcurrency:       4,
		HistoryRetention:       50,
	}
	if raw := os.Getenv("EVOLVE_HISTORY_RETENTION"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.HistoryRetention = n
		}
	}
	return cfg
}

// ApplyDefaults fills every unset (zero) field from DefaultConfig. Explicit
// zeros that are meaningful (BeamWidth, MinAllocation, PropagationTempFloor,
// ChildrenPerParent, ThinkingBudget, HistoryRetention) are left alone; their
// defaults come from DefaultConfig when the caller starts from it.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxIterations == 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.EntropyChangeThreshold == 0 {
		c.EntropyChangeThreshold = def.EntropyChangeThreshold
	}
	if c.TotalChildBudget == 0 {
		c.TotalChildBudget = def.TotalChildBudget
	}
	if c.TMax == 0 {
		c.TMax = def.TMax
	}
	if c.CExplore == 0 {
		c.CExplore = def.CExplore
	}
	if c.MaxResearchIterations == 0 {
		c.MaxResearchIterations = def.MaxResearchIterations
	}
	if c.DistillThreshold == 0 {
		c.DistillThreshold = def.DistillThreshold
	}
	if c.TemperatureCoupling == "" {
		c.TemperatureCoupling = def.TemperatureCoupling
	}
	if c.ManualLLMTemperature == 0 {
		c.ManualLLMTemperature = def.ManualLLMTemperature
	}
	if c.ThinkingLevel == "" {
		c.ThinkingLevel = def.ThinkingLevel
	}
	if c.EpsilonThreshold == 0 {
		c.EpsilonThreshold = def.EpsilonThreshold
	}
	if c.MaxNodeVisits == 0 {
		c.MaxNodeVisits = def.MaxNodeVisits
	}
	if c.EmbedConcurrency == 0 {
		c.EmbedConcurrency = def.EmbedConcurrency
	}
}

// Validate checks the configuration against its tags.
func (c *Config) Validate() error {
	return configValidate.Struct(c)
}

// Override applies the non-zero fields of o on top of c. Used when a start
// request carries partial configuration.
func (c *Config) Override(o map[string]any) {
	for key, value := range o {
		switch key {
		case "max_iterations":
			if v, ok := asInt(value); ok {
				c.MaxIterations = v
			}
		case "entropy_change_threshold":
			if v, ok := asFloat(value); ok {
				c.EntropyChangeThreshold = v
			}
		case "total_child_budget":
			if v, ok := asInt(value); ok {
				c.TotalChildBudget = v
			}
		case "t_max":
			if v, ok := asFloat(value); ok {
				c.TMax = v
			}
		case "c_explore":
			if v, ok := asFloat(value); ok {
				c.CExplore = v
			}
		case "beam_width":
			if v, ok := asInt(value); ok {
				c.BeamWidth = v
			}
		case "min_allocation":
			if v, ok := asInt(value); ok {
				c.MinAllocation = v
			}
		case "max_research_iterations":
			if v, ok := asInt(value); ok {
				c.MaxResearchIterations = v
			}
		case "distill_threshold":
			if v, ok := asInt(value); ok {
				c.DistillThreshold = v
			}
		case "temperature_coupling":
			if v, ok := value.(string); ok {
				c.TemperatureCoupling = CouplingMode(v)
			}
		case "manual_llm_temperature":
			if v, ok := asFloat(value); ok {
				c.ManualLLMTemperature = v
			}
		case "propagation_temp_floor":
			if v, ok := asFloat(value); ok {
				c.PropagationTempFloor = v
			}
		case "children_per_parent":
			if v, ok := asInt(value); ok {
				c.ChildrenPerParent = v
			}
		case "thinking_level":
			if v, ok := value.(string); ok {
				c.ThinkingLevel = ThinkingLevel(v)
			}
		case "thinking_budget":
			if v, ok := asInt(value); ok {
				c.ThinkingBudget = v
			}
		case "epsilon_threshold":
			if v, ok := asFloat(value); ok {
				c.EpsilonThreshold = v
			}
		case "max_node_visits":
			if v, ok := asInt(value); ok {
				c.MaxNodeVisits = v
			}
		case "embed_concurrency":
			if v, ok := asInt(value); ok {
				c.EmbedConcurrency = v
			}
		case "history_retention":
			if v, ok := asInt(value); ok {
				c.HistoryRetention = v
			}
		}
	}
}

// asInt accepts the numeric shapes JSON decoding produces.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
