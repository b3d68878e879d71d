package command

import "strings"

// hallucinations are phrases speech models emit on near-silent input.
var hallucinations = map[string]struct{}{
	"thank you":              {},
	"thanks for watching":    {},
	"subscribe":              {},
	"like and subscribe":     {},
	"thanks for listening":   {},
	"please subscribe":       {},
	"thank you for watching": {},
}

// IsHallucination reports whether text is a known silence artefact of the
// speech model rather than real speech. Matching ignores case, surrounding
// space, and trailing periods.
func IsHallucination(text string) bool {
	t := strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), ".")
	_, ok := hallucinations[strings.TrimSpace(t)]
	return ok
}
