package matching

import (
	"errors"
	"fmt"
	"math"

	"roster/internal/identity"
)

// Weights sets the contribution of each scorer.
type Weights struct {
	EmailExact            float64 `toml:"email_exact" json:"email_exact"`
	UsernameSimilarity    float64 `toml:"username_similarity" json:"username_similarity"`
	DisplayNameSimilarity float64 `toml:"display_name_similarity" json:"display_name_similarity"`
	TeamCoOccurrence      float64 `toml:"team_co_occurrence" json:"team_co_occurrence"`
	ServiceAccountPenalty float64 `toml:"service_account_penalty" json:"service_account_penalty"`
}

// Sum adds all weights.
func (w Weights) Sum() float64 {
	return w.EmailExact + w.UsernameSimilarity + w.DisplayNameSimilarity + w.TeamCoOccurrence + w.ServiceAccountPenalty
}

func (w Weights) forRule(rule string) float64 {
	switch rule {
	case RuleEmailExact:
		return w.EmailExact
	case RuleUsernameSimilarity:
		return w.UsernameSimilarity
	case RuleDisplayNameSimilarity:
		return w.DisplayNameSimilarity
	case RuleTeamCoOccurrence:
		return w.TeamCoOccurrence
	case RuleServiceAccountPenalty:
		return w.ServiceAccountPenalty
	}
	return 0
}

// Thresholds split confidence into auto, conflict, and rejected bands.
type Thresholds struct {
	AutoAccept  float64 `toml:"auto_accept" json:"auto_accept"`
	ConflictMin float64 `toml:"conflict_min" json:"conflict_min"`
}

// Config is the full matching configuration.
type Config struct {
	Weights    Weights    `toml:"weights" json:"weights"`
	Thresholds Thresholds `toml:"thresholds" json:"thresholds"`
}

// DefaultConfig returns the stock weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			EmailExact:            0.40,
			UsernameSimilarity:    0.20,
			DisplayNameSimilarity: 0.20,
			TeamCoOccurrence:      0.10,
			ServiceAccountPenalty: 0.10,
		},
		Thresholds: Thresholds{
			AutoAccept:  0.85,
			ConflictMin: 0.50,
		},
	}
}

// Validate ensures weights and thresholds can produce a meaningful score.
func (c Config) Validate() error {
	for _, rule := range Rules() {
		if w := c.Weights.forRule(rule); !(w >= 0) || math.IsInf(w, 1) {
			return fmt.Errorf("matching.weights.%s must be a finite non-negative number (got %v)", rule, w)
		}
	}
	if !(c.Weights.Sum() > 0) {
		return errors.New("matching.weights must sum to a positive value")
	}
	if !identity.ValidConfidence(c.Thresholds.AutoAccept) {
		return errors.New("matching.thresholds.auto_accept must be between 0 and 1")
	}
	if !identity.ValidConfidence(c.Thresholds.ConflictMin) {
		return errors.New("matching.thresholds.conflict_min must be between 0 and 1")
	}
	if c.Thresholds.AutoAccept <= c.Thresholds.ConflictMin {
		return errors.New("matching.thresholds.auto_accept must be greater than conflict_min")
	}
	return nil
}
