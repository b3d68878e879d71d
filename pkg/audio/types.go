package audio

import "time"

// DefaultSampleRate is the rate every recognition stage works at.
const DefaultSampleRate = 16000

// Chunk is a run of signed 16-bit mono samples as received from a capture
// client. Chunks are owned by the [Buffer] once appended.
type Chunk struct {
	// Samples holds PCM samples at the buffer's sample rate, one channel.
	Samples []int16

	// CapturedAt is when the chunk arrived. A zero value means "now".
	CapturedAt time.Time
}

// Window is a fixed-duration slice of buffered audio, normalized to
// floating-point amplitude in [-1.0, 1.0]. Windows are produced by
// [Buffer.Consume] and handed to recognition as a unit.
type Window struct {
	// Samples are normalized mono samples (int16 / 32768).
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Start is the capture time of the first sample in the window.
	Start time.Time

	// Duration of Samples at SampleRate.
	Duration time.Duration

	// RMS is the root-mean-square level of Samples.
	RMS float64

	// Silent is true when RMS fell below the buffer's silence threshold.
	// Silent windows must not reach recognition.
	Silent bool
}

// Volume returns the perceived loudness of the window in [0, 1].
func (w Window) Volume() float64 {
	return Volume(w.RMS)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the format the pipeline consumes.
var Mono16k = Format{SampleRate: DefaultSampleRate, Channels: 1}
