package fbank

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MelConfig describes a log-mel filterbank front end.
type MelConfig struct {
	SampleRate int
	NMels      int
	HopLength  int // 10ms at 16 kHz
	WinLength  int // 25ms at 16 kHz
	NFFT       int
}

// DefaultMelConfig is the 80-band, 25ms/10ms front end that WeSpeaker-style
// speaker encoders are trained on.
func DefaultMelConfig() MelConfig {
	return MelConfig{SampleRate: 16000, NMels: 80, HopLength: 160, WinLength: 400, NFFT: 512}
}

// Mel computes log-mel spectrograms. It is read-only after construction
// apart from the FFT work buffer, so each goroutine needs its own Mel or
// external locking.
type Mel struct {
	cfg     MelConfig
	filters [][]float64
	window  []float64
	fft     *fourier.FFT
}

// NewMel precomputes the filterbank and window for cfg.
func NewMel(cfg MelConfig) *Mel {
	return &Mel{
		cfg:     cfg,
		filters: melFilterbank(cfg.NFFT, cfg.NMels, cfg.SampleRate),
		window:  hann(cfg.WinLength),
		fft:     fourier.NewFFT(cfg.NFFT),
	}
}

// Config returns the front-end parameters.
func (m *Mel) Config() MelConfig { return m.cfg }

// Frames returns how many analysis frames n samples produce. Frames are
// left-aligned with no padding, so fewer than WinLength samples give 0.
func (m *Mel) Frames(n int) int {
	if n < m.cfg.WinLength {
		return 0
	}
	return (n-m.cfg.WinLength)/m.cfg.HopLength + 1
}

// Compute returns a [frames][NMels] log-mel spectrogram. Band energies are
// clamped at 1e-9 before the log.
func (m *Mel) Compute(samples []float32) [][]float64 {
	n := m.Frames(len(samples))
	out := make([][]float64, n)
	frame := make([]float64, m.cfg.NFFT)
	var coeffs []complex128
	power := make([]float64, m.cfg.NFFT/2+1)

	for f := range n {
		start := f * m.cfg.HopLength
		clear(frame)
		for i := range m.cfg.WinLength {
			frame[i] = float64(samples[start+i]) * m.window[i]
		}
		coeffs = m.fft.Coefficients(coeffs, frame)
		for k := range power {
			re, im := real(coeffs[k]), imag(coeffs[k])
			power[k] = re*re + im*im
		}

		bands := make([]float64, m.cfg.NMels)
		for b, filt := range m.filters {
			var sum float64
			for k, w := range filt {
				if w != 0 {
					sum += power[k] * w
				}
			}
			bands[b] = math.Log(max(sum, 1e-9))
		}
		out[f] = bands
	}
	return out
}

// melFilterbank builds triangular HTK-scale filters over the FFT bins.
func melFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	bins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0
	freqs := make([]float64, bins)
	for i := range freqs {
		freqs[i] = float64(i) * fMax / float64(bins-1)
	}

	lo, hi := hzToMel(0), hzToMel(fMax)
	pts := make([]float64, nMels+2)
	for i := range pts {
		pts[i] = melToHz(lo + float64(i)*(hi-lo)/float64(nMels+1))
	}

	filters := make([][]float64, nMels)
	for m := range filters {
		filters[m] = make([]float64, bins)
		left, centre, right := pts[m], pts[m+1], pts[m+2]
		for k, f := range freqs {
			up := (f - left) / (centre - left)
			down := (right - f) / (right - centre)
			filters[m][k] = max(0, min(up, down))
		}
	}
	return filters
}

func hann(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}
