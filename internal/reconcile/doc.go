// Package reconcile runs the batch matching pass that gives every unlinked
// identity of an organization exactly one active link.
//
// The driver evaluates each pending identity against the organization's
// active people, keeps the best non-rejected candidate, and otherwise creates
// a new person from the identity's own fields. People created during a run
// join the candidate pool for the identities that follow, so two accounts of
// the same newcomer converge on one person.
package reconcile
