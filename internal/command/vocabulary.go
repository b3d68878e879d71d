package command

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// Vocabulary is an immutable command set plus its alias table. Lookups are
// case-insensitive.
type Vocabulary struct {
	commands []string
	set      map[string]string
	aliases  map[string]string
}

// NewVocabulary validates commands and aliases and returns the lookup
// table. Aliases map a misheard word to a canonical command; every target
// must be in commands. All problems are reported together.
func NewVocabulary(commands []string, aliases map[string]string) (*Vocabulary, error) {
	v := &Vocabulary{
		set:     make(map[string]string, len(commands)),
		aliases: make(map[string]string, len(aliases)),
	}
	var errs []error
	if len(commands) == 0 {
		errs = append(errs, errors.New("command: vocabulary is empty"))
	}
	for _, c := range commands {
		key := normalize(c)
		if key == "" {
			errs = append(errs, fmt.Errorf("command: empty vocabulary entry %q", c))
			continue
		}
		if _, dup := v.set[key]; dup {
			errs = append(errs, fmt.Errorf("command: duplicate vocabulary entry %q", c))
			continue
		}
		v.set[key] = key
		v.commands = append(v.commands, key)
	}
	for from, to := range aliases {
		fk, tk := normalize(from), normalize(to)
		switch {
		case fk == "":
			errs = append(errs, fmt.Errorf("command: empty alias for %q", to))
		case strings.ContainsFunc(fk, unicode.IsSpace):
			errs = append(errs, fmt.Errorf("command: alias %q must be a single word", from))
		case v.set[tk] == "":
			errs = append(errs, fmt.Errorf("command: alias %q targets unknown command %q", from, to))
		default:
			v.aliases[fk] = tk
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return v, nil
}

// Commands returns the canonical entries in configured order.
func (v *Vocabulary) Commands() []string {
	return slices.Clone(v.commands)
}

// Contains reports whether s, normalized, is a vocabulary entry.
func (v *Vocabulary) Contains(s string) bool {
	_, ok := v.set[normalize(s)]
	return ok
}

// lookup returns the canonical command for an already-normalized word.
func (v *Vocabulary) lookup(word string) (string, bool) {
	c, ok := v.set[word]
	return c, ok
}

// alias returns the alias target for an already-normalized word.
func (v *Vocabulary) alias(word string) (string, bool) {
	c, ok := v.aliases[word]
	return c, ok
}

// normalize lowercases, trims, and strips trailing punctuation.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// words splits text into lowercased words with surrounding punctuation
// removed. Apostrophes inside a word are kept.
func words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
