package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fold trims surrounding whitespace and lowercases the value. A cases.Caser
// keeps state, so one is created per call.
func Fold(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return cases.Lower(language.Und).String(trimmed)
}

// EqualFold reports whether two values match after folding. Blank values
// never match.
func EqualFold(a, b string) bool {
	fa, fb := Fold(a), Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	return fa == fb
}

// ContainsFold reports whether needle occurs in haystack after folding both.
// A blank needle never matches.
func ContainsFold(haystack, needle string) bool {
	n := Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Fold(haystack), n)
}

// EmailLocalPart returns everything before the first '@' of the trimmed
// address, or the whole trimmed value when there is no '@'.
func EmailLocalPart(email string) string {
	trimmed := strings.TrimSpace(email)
	local, _, _ := strings.Cut(trimmed, "@")
	return local
}

// FirstNonBlank returns the first value that is not blank after trimming.
func FirstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
