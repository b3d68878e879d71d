package audio

import (
	"context"
	"sync"
	"time"
)

// BufferConfig controls windowing and backpressure of a [Buffer].
type BufferConfig struct {
	// SampleRate of appended chunks. Default: 16000.
	SampleRate int

	// Window is the duration of each consumed [Window]. Default: 500ms.
	Window time.Duration

	// Ceiling bounds unconsumed audio. When exceeded, the oldest samples
	// are dropped. Values below Window are raised to Window. Default: 1s.
	Ceiling time.Duration

	// SilenceRMS is the level below which a window is tagged silent.
	// Default: 0.01.
	SilenceRMS float64

	// OnDrop, when set, is called with the number of samples discarded by
	// the ceiling. It runs with the buffer lock held and must not call back
	// into the buffer.
	OnDrop func(samples int)
}

func (c *BufferConfig) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Window <= 0 {
		c.Window = 500 * time.Millisecond
	}
	if c.Ceiling <= 0 {
		c.Ceiling = time.Second
	}
	if c.Ceiling < c.Window {
		c.Ceiling = c.Window
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 0.01
	}
}

// Buffer accumulates PCM chunks for one connection and cuts them into
// fixed-duration windows. Unconsumed audio never exceeds the configured
// ceiling: excess is dropped from the oldest end.
//
// All methods are safe for concurrent use. Typically one goroutine appends
// while another waits on [Buffer.Ready] and consumes.
type Buffer struct {
	cfg BufferConfig

	windowSamples  int
	ceilingSamples int

	mu      sync.Mutex
	samples []int16
	start   time.Time
	dropped int64

	ready chan struct{}
}

// NewBuffer returns an empty buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	cfg.applyDefaults()
	return &Buffer{
		cfg:            cfg,
		windowSamples:  SamplesFor(cfg.Window, cfg.SampleRate),
		ceilingSamples: SamplesFor(cfg.Ceiling, cfg.SampleRate),
		ready:          make(chan struct{}, 1),
	}
}

// Config returns the effective configuration after defaults.
func (b *Buffer) Config() BufferConfig { return b.cfg }

// Append adds a chunk to the tail of the buffer and enforces the ceiling.
func (b *Buffer) Append(c Chunk) {
	if len(c.Samples) == 0 {
		return
	}
	at := c.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	if len(b.samples) == 0 {
		b.start = at
	}
	b.samples = append(b.samples, c.Samples...)
	if excess := len(b.samples) - b.ceilingSamples; excess > 0 {
		n := copy(b.samples, b.samples[excess:])
		b.samples = b.samples[:n]
		b.start = b.start.Add(DurationOf(excess, b.cfg.SampleRate))
		b.dropped += int64(excess)
		if b.cfg.OnDrop != nil {
			b.cfg.OnDrop(excess)
		}
	}
	full := len(b.samples) >= b.windowSamples
	b.mu.Unlock()

	if full {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
}

// Ready returns a channel that receives a value whenever at least one full
// window may be available. Receivers must still check [Buffer.Consume]'s
// ok result: the signal is level-coalesced, not counted.
func (b *Buffer) Ready() <-chan struct{} { return b.ready }

// HasWindow reports whether a full window is buffered.
func (b *Buffer) HasWindow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) >= b.windowSamples
}

// Consume removes exactly one window from the head of the buffer. ok is
// false when less than a window is buffered.
func (b *Buffer) Consume() (w Window, ok bool) {
	b.mu.Lock()
	if len(b.samples) < b.windowSamples {
		b.mu.Unlock()
		return Window{}, false
	}
	raw := make([]int16, b.windowSamples)
	copy(raw, b.samples)
	n := copy(b.samples, b.samples[b.windowSamples:])
	b.samples = b.samples[:n]
	start := b.start
	b.start = b.start.Add(b.cfg.Window)
	b.mu.Unlock()

	samples := Int16ToFloat32(raw)
	rms := RMS(samples)
	return Window{
		Samples:    samples,
		SampleRate: b.cfg.SampleRate,
		Start:      start,
		Duration:   b.cfg.Window,
		RMS:        rms,
		Silent:     rms < b.cfg.SilenceRMS,
	}, true
}

// Windows returns a channel that yields consumed windows until ctx ends.
// At most one window is held outside the buffer at a time, so a slow
// receiver leaves audio in the buffer where the ceiling bounds it.
func (b *Buffer) Windows(ctx context.Context) <-chan Window {
	out := make(chan Window)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.ready:
			}
			for {
				w, ok := b.Consume()
				if !ok {
					break
				}
				select {
				case out <- w:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Buffered returns the duration of unconsumed audio.
func (b *Buffer) Buffered() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DurationOf(len(b.samples), b.cfg.SampleRate)
}

// Dropped returns the total number of samples discarded by the ceiling.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Reset discards all buffered audio.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.start = time.Time{}
	b.mu.Unlock()
	select {
	case <-b.ready:
	default:
	}
}
