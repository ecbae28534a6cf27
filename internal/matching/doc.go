// Package matching scores a candidate (person, identity) pair and classifies
// the result.
//
// Five scorers run in a fixed order: email_exact, username_similarity,
// display_name_similarity, team_co_occurrence, and service_account_penalty.
// Each contributes score*weight; the weighted mean is clamped to [0, 1] and
// compared against the auto-accept and conflict thresholds. Every evaluation
// returns a Trace that records each scorer's contribution so reviewers can see
// why a link was created. Evaluation is pure and safe for concurrent use.
package matching
