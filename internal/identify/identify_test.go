package identify_test

import (
	"context"
	"errors"
	"math"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	vpmock "github.com/MrWong99/gamevox/pkg/provider/voiceprint/mock"
	"github.com/MrWong99/gamevox/pkg/speaker"
	spmock "github.com/MrWong99/gamevox/pkg/speaker/mock"
)

type fakeStore struct {
	profiles []speaker.Profile
	err      error
}

func (s *fakeStore) Profiles(context.Context) ([]speaker.Profile, error) {
	return s.profiles, s.err
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// unit returns a unit vector in 2D at the given cosine to (1, 0).
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func profiles(sims map[string]float64, order ...string) []speaker.Profile {
	out := make([]speaker.Profile, 0, len(order))
	for _, n := range order {
		out = append(out, speaker.Profile{Name: n, Embedding: unit(sims[n])})
	}
	return out
}

var win = audio.Window{Samples: make([]float32, 8000), SampleRate: 16000}

func newIdentifier(t *testing.T, store identify.Store, ex voiceprint.Extractor) *identify.Identifier {
	t.Helper()
	return identify.New(ex, store, identify.WithMetrics(testMetrics(t)))
}

func TestIdentify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sims    map[string]float64
		order   []string
		mode    identify.Mode
		allowed []string
		want    string
		wantSim float64
	}{
		{
			name:  "best match above general threshold",
			sims:  map[string]float64{"ann": 0.2, "bob": 0.8},
			order: []string{"ann", "bob"},
			want:  "bob", wantSim: 0.8,
		},
		{
			name:  "below general threshold is unknown",
			sims:  map[string]float64{"ann": 0.25},
			order: []string{"ann"},
			want:  identify.Unknown, wantSim: 0.25,
		},
		{
			name:  "gameplay threshold is lower",
			sims:  map[string]float64{"ann": 0.25},
			order: []string{"ann"},
			mode:  identify.ModeGameplay,
			want:  "ann", wantSim: 0.25,
		},
		{
			name:  "tie goes to first enrolled",
			sims:  map[string]float64{"ann": 0.6, "bob": 0.6},
			order: []string{"bob", "ann"},
			want:  "bob", wantSim: 0.6,
		},
		{
			name:    "allowed filter excludes better match",
			sims:    map[string]float64{"ann": 0.9, "bob": 0.5},
			order:   []string{"ann", "bob"},
			allowed: []string{"BOB"},
			want:    "bob", wantSim: 0.5,
		},
		{
			name:    "allowed filter with nobody enrolled from it",
			sims:    map[string]float64{"ann": 0.9},
			order:   []string{"ann"},
			allowed: []string{"zed"},
			want:    identify.Unknown,
		},
		{
			name: "empty store",
			want: identify.Unknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{profiles: profiles(tc.sims, tc.order...)}
			id := newIdentifier(t, store, &vpmock.Extractor{Embedding: []float32{1, 0}})

			got, err := id.Identify(context.Background(), win, tc.mode, tc.allowed...)
			if err != nil {
				t.Fatalf("Identify: %v", err)
			}
			if got.Name != tc.want {
				t.Errorf("Name = %q, want %q", got.Name, tc.want)
			}
			if math.Abs(got.Similarity-tc.wantSim) > 1e-6 {
				t.Errorf("Similarity = %v, want %v", got.Similarity, tc.wantSim)
			}
			if got.Known() && got.Confidence != got.Similarity {
				t.Errorf("Confidence = %v, want %v", got.Confidence, got.Similarity)
			}
			if !got.Known() && got.Confidence != 0 {
				t.Errorf("unknown Confidence = %v, want 0", got.Confidence)
			}
		})
	}
}

func TestIdentify_ThresholdIsStrict(t *testing.T) {
	t.Parallel()
	store := &fakeStore{profiles: []speaker.Profile{{Name: "ann", Embedding: []float32{1, 0}}}}
	id := identify.New(&vpmock.Extractor{Embedding: []float32{1, 0}}, store,
		identify.WithThresholds(1, 1), identify.WithMetrics(testMetrics(t)))

	got, err := id.Identify(context.Background(), win, identify.ModeGeneral)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got.Known() {
		t.Errorf("similarity equal to threshold matched: %+v", got)
	}
}

func TestSetThresholds(t *testing.T) {
	t.Parallel()
	store := &fakeStore{profiles: profiles(map[string]float64{"ann": 0.5}, "ann")}
	id := newIdentifier(t, store, &vpmock.Extractor{Embedding: []float32{1, 0}})

	ctx := context.Background()
	if got, _ := id.Identify(ctx, win, identify.ModeGeneral); !got.Known() {
		t.Fatalf("default threshold: got %+v, want ann", got)
	}

	id.SetThresholds(0.6, 0.2)
	if got := id.Threshold(identify.ModeGeneral); got != 0.6 {
		t.Errorf("Threshold(general) = %v, want 0.6", got)
	}
	if got := id.Threshold(identify.ModeGameplay); got != 0.2 {
		t.Errorf("Threshold(gameplay) = %v, want 0.2", got)
	}
	if got, _ := id.Identify(ctx, win, identify.ModeGeneral); got.Known() {
		t.Errorf("raised threshold: got %+v, want unknown", got)
	}
	if got, _ := id.Identify(ctx, win, identify.ModeGameplay); got.Name != "ann" {
		t.Errorf("gameplay: got %+v, want ann", got)
	}
}

func TestIdentify_ExtractionFailureIsUnknown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ex   *vpmock.Extractor
	}{
		{name: "extractor error", ex: &vpmock.Extractor{Err: voiceprint.ErrTooShort}},
		{name: "zero embedding", ex: &vpmock.Extractor{Embedding: []float32{0, 0}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{profiles: profiles(map[string]float64{"ann": 1}, "ann")}
			got, err := newIdentifier(t, store, tc.ex).Identify(context.Background(), win, identify.ModeGeneral)
			if err != nil {
				t.Fatalf("Identify returned error: %v", err)
			}
			if got != identify.UnknownMatch {
				t.Errorf("got %+v, want UnknownMatch", got)
			}
		})
	}
}

func TestIdentify_StoreFailureIsError(t *testing.T) {
	t.Parallel()
	storeErr := errors.New("disk gone")
	ex := &vpmock.Extractor{Embedding: []float32{1, 0}}
	id := newIdentifier(t, &fakeStore{err: storeErr}, ex)

	got, err := id.Identify(context.Background(), win, identify.ModeGeneral)
	if !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want %v", err, storeErr)
	}
	if got.Known() {
		t.Errorf("got %+v on store failure", got)
	}
}

func TestIdentify_ClosedRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := speaker.Open(ctx, &spmock.Backend{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := reg.Add(ctx, "Ann", []float32{1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	id := newIdentifier(t, reg, &vpmock.Extractor{Embedding: []float32{1, 0}})
	got, err := id.Identify(ctx, win, identify.ModeGeneral)
	if err != nil || got.Name != "Ann" {
		t.Fatalf("Identify = %+v, %v; want Ann", got, err)
	}

	_ = reg.Close()
	if _, err := id.Identify(ctx, win, identify.ModeGeneral); !errors.Is(err, speaker.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestRank(t *testing.T) {
	t.Parallel()
	store := &fakeStore{profiles: profiles(
		map[string]float64{"ann": 0.2, "bob": 0.9, "cat": 0.5, "dan": 0.5},
		"ann", "bob", "cat", "dan",
	)}
	id := newIdentifier(t, store, &vpmock.Extractor{Embedding: []float32{1, 0}})

	got, err := id.Rank(context.Background(), win, identify.ModeGeneral, 3)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	want := []string{"bob", "cat", "dan"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, n := range want {
		if got[i].Name != n {
			t.Errorf("rank[%d] = %q, want %q", i, got[i].Name, n)
		}
	}

	all, _ := id.Rank(context.Background(), win, identify.ModeGeneral, 0)
	last := all[len(all)-1]
	if last.Name != "ann" || last.Confidence != 0 {
		t.Errorf("last = %+v, want ann below threshold", last)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    identify.Mode
		wantErr bool
	}{
		{"", identify.ModeGeneral, false},
		{"general", identify.ModeGeneral, false},
		{"Gameplay", identify.ModeGameplay, false},
		{"party", identify.ModeGeneral, true},
	}
	for _, tc := range tests {
		got, err := identify.ParseMode(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseMode(%q) = %v, %v", tc.in, got, err)
		}
	}
	if identify.ModeGameplay.String() != "gameplay" {
		t.Errorf("String = %q", identify.ModeGameplay.String())
	}
}
