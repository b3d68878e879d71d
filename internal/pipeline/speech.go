package pipeline

import "time"

// Speech-run tracking bounds.
const (
	MaxSpeechDuration = 1500 * time.Millisecond
	SpeechGap         = 500 * time.Millisecond
)

// speechTracker measures continuous speech per speaker on the window
// timeline. Not safe for concurrent use; a Coordinator owns one.
type speechTracker struct {
	runs map[string]speechRun
}

type speechRun struct {
	start, last time.Time
}

// observe records a window ending at end and returns the speaker's
// current run length. A gap longer than SpeechGap starts a new run.
func (t *speechTracker) observe(name string, start, end time.Time) time.Duration {
	if t.runs == nil {
		t.runs = make(map[string]speechRun)
	}
	run, ok := t.runs[name]
	if !ok || start.Sub(run.last) > SpeechGap {
		run.start = start
	}
	run.last = end
	t.runs[name] = run
	return min(end.Sub(run.start), MaxSpeechDuration)
}

// silence ends every run.
func (t *speechTracker) silence() {
	clear(t.runs)
}
