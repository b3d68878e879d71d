package fbank_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint/fbank"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// voice synthesizes a crude vowel: harmonics of f0 shaped by two formant
// peaks, plus a little noise.
func voice(f0, f1, f2 float64, seconds float64, seed uint64) []float32 {
	const rate = 16000
	n := int(seconds * rate)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float32, n)
	for h := 1; float64(h)*f0 < 7000; h++ {
		f := float64(h) * f0
		gain := 1/(1+math.Pow((f-f1)/150, 2)) + 0.6/(1+math.Pow((f-f2)/200, 2)) + 0.02
		phase := rng.Float64() * 2 * math.Pi
		for i := range out {
			out[i] += float32(0.05 * gain * math.Sin(2*math.Pi*f*float64(i)/rate+phase))
		}
	}
	for i := range out {
		out[i] += float32(0.002 * rng.NormFloat64())
	}
	return out
}

func mustExtract(t *testing.T, e *fbank.Extractor, s []float32) []float32 {
	t.Helper()
	v, err := e.Extract(context.Background(), s, 16000)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return v
}

func TestExtractor_Dimensions(t *testing.T) {
	t.Parallel()

	e, err := fbank.New(fbank.WithCepstra(12))
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 24 {
		t.Errorf("Dimensions() = %d, want 24", e.Dimensions())
	}
	v := mustExtract(t, e, voice(120, 700, 1200, 0.5, 1))
	if len(v) != 24 {
		t.Errorf("len = %d, want 24", len(v))
	}
}

func TestExtractor_Deterministic(t *testing.T) {
	t.Parallel()

	e, _ := fbank.New()
	s := voice(120, 700, 1200, 1, 7)
	a := mustExtract(t, e, s)
	b := mustExtract(t, e, s)
	if got := speaker.Cosine(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("same input cosine = %f, want 1", got)
	}
}

func TestExtractor_SameVoiceCloserThanDifferentVoice(t *testing.T) {
	t.Parallel()

	e, _ := fbank.New()
	ann1 := mustExtract(t, e, voice(110, 650, 1100, 2, 1))
	ann2 := mustExtract(t, e, voice(110, 650, 1100, 0.5, 2))
	bob := mustExtract(t, e, voice(230, 400, 2300, 0.5, 3))

	same := speaker.Cosine(ann1, ann2)
	diff := speaker.Cosine(ann1, bob)
	if same <= diff {
		t.Errorf("cos(ann, ann') = %f, cos(ann, bob) = %f; want same > diff", same, diff)
	}
}

func TestExtractor_TooShort(t *testing.T) {
	t.Parallel()

	e, _ := fbank.New()
	_, err := e.Extract(context.Background(), make([]float32, 300), 16000)
	if !errors.Is(err, voiceprint.ErrTooShort) {
		t.Errorf("err = %v, want ErrTooShort", err)
	}
}

func TestExtractor_WrongRate(t *testing.T) {
	t.Parallel()

	e, _ := fbank.New()
	if _, err := e.Extract(context.Background(), make([]float32, 16000), 8000); err == nil {
		t.Error("Extract at 8 kHz succeeded")
	}
}

func TestNew_InvalidCepstra(t *testing.T) {
	t.Parallel()

	if _, err := fbank.New(fbank.WithCepstra(0)); err == nil {
		t.Error("New(cepstra=0) succeeded")
	}
}

func TestMel_Frames(t *testing.T) {
	t.Parallel()

	m := fbank.NewMel(fbank.DefaultMelConfig())
	tests := []struct{ n, want int }{
		{0, 0}, {399, 0}, {400, 1}, {559, 1}, {560, 2}, {16000, 98},
	}
	for _, tc := range tests {
		if got := m.Frames(tc.n); got != tc.want {
			t.Errorf("Frames(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
	spec := m.Compute(make([]float32, 16000))
	if len(spec) != 98 || len(spec[0]) != 80 {
		t.Errorf("Compute shape = %dx%d, want 98x80", len(spec), len(spec[0]))
	}
}
