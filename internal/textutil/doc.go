// Package textutil provides the text normalization and similarity helpers
// used by identity matching.
//
// The primary use cases are:
//   - Folding names, emails, and usernames to a trimmed lowercase form
//   - Extracting the local part of an email address
//   - Scoring string similarity with Jaro-Winkler
//
// Folding uses language-neutral Unicode lowercasing so accented names compare
// the same way regardless of the caller's locale.
package textutil
