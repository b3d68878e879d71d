// Package phonetic matches a single misheard word against the command
// vocabulary by pronunciation.
//
// Candidates are first filtered by Double Metaphone code overlap, then
// ranked by Jaro-Winkler similarity on the lowercased strings. A candidate
// that shares no phonetic code can still win on spelling alone when its
// Jaro-Winkler score clears the stricter fuzzy threshold.
//
// Speech recognizers tend to substitute words that sound alike ("write" for
// "right", "lef" for "left"), which is the gap this closes between the
// exact vocabulary scan and the language-model parser.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinLength         = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetically
// matching candidate needs. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score a candidate needs
// when no phonetic code overlaps. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the shortest word (in runes) the matcher will try.
// Very short words have near-empty metaphone codes and match too eagerly.
// Default: 3.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = n
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the candidate that sounds most like word. On a tie the
// earlier candidate wins, so callers control precedence through order.
// When matched is false, best is "" and score is 0.
func (m *Matcher) Match(word string, candidates []string) (best string, score float64, matched bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if len(candidates) == 0 || len([]rune(w)) < m.minLength {
		return "", 0, false
	}
	wordCodes := codes(w)

	var phoneticHit bool
	for _, c := range candidates {
		cl := strings.ToLower(strings.TrimSpace(c))
		if cl == "" {
			continue
		}
		jw := matchr.JaroWinkler(w, cl, false)

		if overlap(wordCodes, codes(cl)) {
			if jw >= m.phoneticThreshold && (!phoneticHit || jw > score) {
				best, score, phoneticHit = c, jw, true
			}
			continue
		}
		if !phoneticHit && jw >= m.fuzzyThreshold && jw > score {
			best, score = c, jw
		}
	}
	return best, score, best != ""
}

// codes returns the non-empty Double Metaphone codes for word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
