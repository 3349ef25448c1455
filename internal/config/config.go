package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ModePreset couples a piece-generation mode with the soft turn limit the
// preset is played under.
type ModePreset struct {
	ID               string `json:"id"`
	Mode             string `json:"mode"`
	SoftLimitMinutes int    `json:"soft_limit_minutes"`
}

// MatchRules is the tunable timing surface of the match core. Scoring and
// penalty rates are deliberately not here: they are domain constants, so
// two installs with different files still resolve identical outcomes.
type MatchRules struct {
	DefaultPreset string       `json:"default_preset"`
	Presets       []ModePreset `json:"presets"`
	// TurnCeilingHours is the hard per-turn ceiling; past it the match is
	// force-ended as a timeout.
	TurnCeilingHours int `json:"turn_ceiling_hours"`
	// MatchHorizonHours is the expected full-match span used to grade how
	// early a disconnect happened.
	MatchHorizonHours    int `json:"match_horizon_hours"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes"`
}

// Default returns the rules used when no config file is present.
func Default() MatchRules {
	return MatchRules{
		DefaultPreset: "casual",
		Presets: []ModePreset{
			{ID: "casual", Mode: "uniform", SoftLimitMinutes: 60},
			{ID: "ranked", Mode: "strategic", SoftLimitMinutes: 60},
			{ID: "relaxed", Mode: "easy", SoftLimitMinutes: 240},
			{ID: "gauntlet", Mode: "hard", SoftLimitMinutes: 30},
		},
		TurnCeilingHours:     48,
		MatchHorizonHours:    96,
		SweepIntervalMinutes: 15,
	}
}

// Load reads match rules from the given JSON file. The result is a plain
// value for the caller to pass down; nothing is cached at package level.
func Load(path string) (MatchRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MatchRules{}, fmt.Errorf("failed to read match rules: %w", err)
	}

	var rules MatchRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return MatchRules{}, fmt.Errorf("failed to unmarshal match rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return MatchRules{}, err
	}
	return rules, nil
}

func (r MatchRules) validate() error {
	if len(r.Presets) == 0 {
		return fmt.Errorf("match rules need at least one preset")
	}
	seen := map[string]bool{}
	for _, p := range r.Presets {
		if p.ID == "" {
			return fmt.Errorf("preset with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate preset id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if r.DefaultPreset != "" && !seen[r.DefaultPreset] {
		return fmt.Errorf("default preset %q is not defined", r.DefaultPreset)
	}
	return nil
}

// PresetByID returns the preset for the given id, falling back to the
// default preset and then to the first defined one.
func (r MatchRules) PresetByID(id string) ModePreset {
	target := id
	if target == "" {
		target = r.DefaultPreset
	}

	for _, p := range r.Presets {
		if p.ID == target {
			return p
		}
	}
	for _, p := range r.Presets {
		if p.ID == r.DefaultPreset {
			return p
		}
	}
	if len(r.Presets) > 0 {
		return r.Presets[0]
	}
	return ModePreset{ID: "casual", Mode: "uniform", SoftLimitMinutes: 60}
}

// TurnCeiling returns the hard per-turn ceiling as a duration.
func (r MatchRules) TurnCeiling() time.Duration {
	return time.Duration(r.TurnCeilingHours) * time.Hour
}

// MatchHorizon returns the disconnect-grading horizon as a duration.
func (r MatchRules) MatchHorizon() time.Duration {
	return time.Duration(r.MatchHorizonHours) * time.Hour
}

// SweepInterval returns the timeout sweeper period as a duration.
func (r MatchRules) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// SoftLimit returns the preset's soft turn limit as a duration.
func (p ModePreset) SoftLimit() time.Duration {
	return time.Duration(p.SoftLimitMinutes) * time.Minute
}
