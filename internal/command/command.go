// Package command extracts one command of a fixed vocabulary from
// transcribed speech.
//
// Extraction runs three ordered stages and stops at the first that yields a
// command:
//
//  1. Direct: the whole trimmed text equals a vocabulary entry.
//  2. Word scan: each word, in spoken order, is checked against the
//     vocabulary, the alias table, and optionally a phonetic matcher.
//  3. Fallback: a language model constrained to the vocabulary, bounded by
//     a timeout and never retried. Without a model, a deterministic
//     substring scan stands in.
//
// Stages 1 and 2 are pure string work and answer in microseconds, which is
// what keeps most windows inside the latency budget.
package command

// Stage identifies which extraction stage produced a [Parsed] result.
type Stage int

const (
	// StageNone means extraction never ran (empty text).
	StageNone Stage = iota
	// StageDirect is the whole-text vocabulary match.
	StageDirect
	// StageWordScan is the per-word vocabulary/alias match.
	StageWordScan
	// StageFallback is the language-model (or substring) parser.
	StageFallback
)

// String returns the stage label used in logs and metric attributes.
func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageWordScan:
		return "word_scan"
	case StageFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Stage confidences.
const (
	ConfidenceDirect    = 0.95
	ConfidenceWord      = 0.85
	ConfidenceAlias     = 0.75
	ConfidenceSubstring = 0.9
)

// Parsed is the outcome of one extraction.
type Parsed struct {
	// Command is the canonical vocabulary entry, or "" when none was found.
	Command string

	// RawText is the text extraction ran on, unmodified.
	RawText string

	// Confidence in [0, 1]. Zero when Command is empty.
	Confidence float64

	// Stage is the last stage that ran.
	Stage Stage
}

// Found reports whether a command was extracted.
func (p Parsed) Found() bool { return p.Command != "" }
