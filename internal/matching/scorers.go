package matching

import (
	"fmt"

	"roster/internal/identity"
	"roster/internal/textutil"
)

// Rule names, in evaluation order.
const (
	RuleEmailExact            = "email_exact"
	RuleUsernameSimilarity    = "username_similarity"
	RuleDisplayNameSimilarity = "display_name_similarity"
	RuleTeamCoOccurrence      = "team_co_occurrence"
	RuleServiceAccountPenalty = "service_account_penalty"
)

// teamCoOccurrenceScore is awarded when the person's team appears in the
// identity's username or display name.
const teamCoOccurrenceScore = 0.5

type scoreFunc func(p identity.Person, i identity.Identity) (score float64, detail string)

type scorer struct {
	rule  string
	score scoreFunc
}

var scorers = []scorer{
	{rule: RuleEmailExact, score: scoreEmailExact},
	{rule: RuleUsernameSimilarity, score: scoreUsernameSimilarity},
	{rule: RuleDisplayNameSimilarity, score: scoreDisplayNameSimilarity},
	{rule: RuleTeamCoOccurrence, score: scoreTeamCoOccurrence},
	{rule: RuleServiceAccountPenalty, score: scoreServiceAccount},
}

// Rules returns the scorer rule names in evaluation order.
func Rules() []string {
	out := make([]string, len(scorers))
	for idx, s := range scorers {
		out[idx] = s.rule
	}
	return out
}

func scoreEmailExact(p identity.Person, i identity.Identity) (float64, string) {
	detail := fmt.Sprintf("person_email=%q identity_email=%q", p.PrimaryEmail, i.Email)
	if textutil.EqualFold(p.PrimaryEmail, i.Email) {
		return 1, detail
	}
	return 0, detail
}

func scoreUsernameSimilarity(p identity.Person, i identity.Identity) (float64, string) {
	local := textutil.EmailLocalPart(p.PrimaryEmail)
	detail := fmt.Sprintf("email_local=%q identity_username=%q", local, i.Username)
	return textutil.JaroWinkler(textutil.Fold(local), textutil.Fold(i.Username)), detail
}

func scoreDisplayNameSimilarity(p identity.Person, i identity.Identity) (float64, string) {
	detail := fmt.Sprintf("person_name=%q identity_name=%q", p.DisplayName, i.DisplayName)
	return textutil.JaroWinkler(textutil.Fold(p.DisplayName), textutil.Fold(i.DisplayName)), detail
}

func scoreTeamCoOccurrence(p identity.Person, i identity.Identity) (float64, string) {
	detail := fmt.Sprintf("person_team=%q identity_username=%q identity_display=%q", p.Team, i.Username, i.DisplayName)
	if textutil.ContainsFold(i.Username, p.Team) || textutil.ContainsFold(i.DisplayName, p.Team) {
		return teamCoOccurrenceScore, detail
	}
	return 0, detail
}

func scoreServiceAccount(_ identity.Person, i identity.Identity) (float64, string) {
	detail := fmt.Sprintf("is_service_account=%t", i.IsServiceAccount)
	if i.IsServiceAccount {
		return 0, detail
	}
	return 1, detail
}
