package textutil

import "github.com/xrash/smetrics"

const (
	jaroWinklerBoostThreshold = 0.7
	jaroWinklerPrefixSize     = 4
)

// JaroWinkler scores the similarity of a and b in [0, 1], comparing
// characters rather than bytes. Inputs are used as given; fold them first for
// case-insensitive comparison. Returns 0 if either value is empty.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if ea, eb, ok := encodeRunes(a, b); ok {
		a, b = ea, eb
	}
	score := smetrics.JaroWinkler(a, b, jaroWinklerBoostThreshold, jaroWinklerPrefixSize)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// encodeRunes rewrites a and b with one ASCII byte per distinct rune so a
// byte-wise comparison sees whole characters. ok is false when the pair
// holds more than 128 distinct runes.
func encodeRunes(a, b string) (string, string, bool) {
	codes := make(map[rune]byte)
	encode := func(s string) (string, bool) {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			c, seen := codes[r]
			if !seen {
				if len(codes) == 128 {
					return "", false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out = append(out, c)
		}
		return string(out), true
	}
	ea, ok := encode(a)
	if !ok {
		return a, b, false
	}
	eb, ok := encode(b)
	if !ok {
		return a, b, false
	}
	return ea, eb, true
}
