// Package pipeline joins speaker identification and transcription for each
// audio window, extracts a command, and routes it to a player slot.
//
// One [Coordinator] serves one connection. Windows are processed strictly
// in order; within a window every recognition task runs in its own
// goroutine and the results are joined under a single deadline.
package pipeline

import "time"

// Event is a routed command, ready to send to the game.
type Event struct {
	Timestamp         time.Time
	Speaker           string
	SpeakerConfidence float64
	Command           string
	RawText           string
	CommandConfidence float64
	Player            string

	// Volume is the perceived loudness of the window in [0, 1].
	Volume float64

	// SpeechDuration is how long the speaker has been talking without a
	// break, capped at [MaxSpeechDuration].
	SpeechDuration time.Duration
}
