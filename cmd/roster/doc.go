// Command roster is the command-line interface for identity reconciliation.
//
// It manages people and source identities, runs the matching pass, and
// drives the review workflow over person-identity links: confirming,
// remapping, and splitting links, working the conflict queue, and inspecting
// sync watermarks. Listings render as tables, or as JSON with --json.
package main
