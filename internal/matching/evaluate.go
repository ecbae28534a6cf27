package matching

import (
	"encoding/json"

	"roster/internal/identity"
)

// ScorerResult is one scorer's contribution to an evaluation.
type ScorerResult struct {
	Rule          string  `json:"rule"`
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weighted_score"`
	Detail        string  `json:"detail"`
}

// Trace explains an evaluation. It is persisted verbatim on the link.
type Trace struct {
	Scorers        []ScorerResult `json:"scorers"`
	RawTotal       float64        `json:"raw_total"`
	WeightSum      float64        `json:"weight_sum"`
	Confidence     float64        `json:"confidence"`
	Classification string         `json:"classification"`
}

// JSON encodes the trace for storage.
func (t Trace) JSON() (json.RawMessage, error) {
	return json.Marshal(t)
}

// Result is the outcome of evaluating one (person, identity) pair.
type Result struct {
	Confidence float64
	Status     identity.LinkStatus
	Trace      Trace
}

// Classify maps a confidence onto a link status. Boundaries are inclusive on
// the lower edge of each band.
func Classify(confidence float64, t Thresholds) identity.LinkStatus {
	switch {
	case confidence >= t.AutoAccept:
		return identity.StatusAuto
	case confidence >= t.ConflictMin:
		return identity.StatusConflict
	default:
		return identity.StatusRejected
	}
}

// Evaluate runs every scorer against the pair and classifies the weighted
// mean. A non-positive weight sum yields confidence 0.
func Evaluate(cfg Config, p identity.Person, i identity.Identity) Result {
	results := make([]ScorerResult, 0, len(scorers))
	var rawTotal, weightSum float64
	for _, s := range scorers {
		score, detail := s.score(p, i)
		weight := cfg.Weights.forRule(s.rule)
		weighted := score * weight
		results = append(results, ScorerResult{
			Rule:          s.rule,
			Score:         score,
			Weight:        weight,
			WeightedScore: weighted,
			Detail:        detail,
		})
		rawTotal += weighted
		weightSum += weight
	}

	var confidence float64
	if weightSum > 0 {
		confidence = clamp01(rawTotal / weightSum)
	}
	status := Classify(confidence, cfg.Thresholds)

	return Result{
		Confidence: confidence,
		Status:     status,
		Trace: Trace{
			Scorers:        results,
			RawTotal:       rawTotal,
			WeightSum:      weightSum,
			Confidence:     confidence,
			Classification: string(status),
		},
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
