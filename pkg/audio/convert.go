package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter normalizes a client stream to the pipeline's mono target rate.
// Stereo input is downmixed before resampling so only one channel goes
// through the filter. The underlying resampler is stateful, so create one
// Converter per stream; it is not safe for concurrent use.
type Converter struct {
	src    Format
	target Format

	resampler resampling.Resampler
	warnOnce  sync.Once
}

// NewConverter returns a converter from src to a mono stream at
// target.SampleRate. When src already matches, Convert is a passthrough.
func NewConverter(src, target Format) (*Converter, error) {
	if src.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid source sample rate %d", src.SampleRate)
	}
	if src.Channels < 1 || src.Channels > 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", src.Channels)
	}
	if target.SampleRate <= 0 {
		target.SampleRate = DefaultSampleRate
	}
	target.Channels = 1

	c := &Converter{src: src, target: target}
	if src.SampleRate != target.SampleRate {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(target.SampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("audio: create resampler %d->%d: %w", src.SampleRate, target.SampleRate, err)
		}
		c.resampler = r
	}
	return c, nil
}

// Passthrough reports whether Convert returns its input unchanged.
func (c *Converter) Passthrough() bool {
	return c.resampler == nil && c.src.Channels == 1
}

// Convert returns samples in the target format. The resampler may hold back
// a few samples of filter delay, so output length is not an exact ratio of
// input length per call.
func (c *Converter) Convert(samples []int16) ([]int16, error) {
	if c.Passthrough() {
		return samples, nil
	}
	c.warnOnce.Do(func() {
		slog.Debug("audio: converting client stream",
			"from", formatString(c.src.SampleRate, c.src.Channels),
			"to", formatString(c.target.SampleRate, 1),
		)
	})

	mono := samples
	if c.src.Channels == 2 {
		mono = DownmixStereo(samples)
	}
	if c.resampler == nil {
		return mono, nil
	}

	in := make([]float64, len(mono))
	for i, s := range mono {
		in[i] = float64(s) / 32768.0
	}
	out, err := c.resampler.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	res := make([]int16, len(out))
	for i, v := range out {
		v *= 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		res[i] = int16(v)
	}
	return res, nil
}

// formatString returns a human-readable format, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
