package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/gamevox/internal/admin"
	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	vpmock "github.com/MrWong99/gamevox/pkg/provider/voiceprint/mock"
	"github.com/MrWong99/gamevox/pkg/speaker"
	speakermock "github.com/MrWong99/gamevox/pkg/speaker/mock"
)

type fixture struct {
	svc     *admin.Service
	reg     *speaker.Registry
	backend *speakermock.Backend
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := &speakermock.Backend{}
	reg, err := speaker.Open(ctx, backend)
	if err != nil {
		t.Fatalf("speaker.Open: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	for i, n := range names {
		emb := []float32{0, 0, 0}
		emb[i%3] = 1
		if _, err := reg.Add(ctx, n, emb); err != nil {
			t.Fatalf("Add(%q): %v", n, err)
		}
	}

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	vocab, err := command.NewVocabulary([]string{"jump", "left", "right"}, map[string]string{"hop": "jump"})
	if err != nil {
		t.Fatalf("NewVocabulary: %v", err)
	}
	ext := command.New(vocab, command.WithMetrics(metrics))

	return &fixture{svc: admin.New(reg, ext), reg: reg, backend: backend}
}

func TestSpeakers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Ann", "Ben")

	ps, err := f.svc.Speakers(context.Background())
	if err != nil {
		t.Fatalf("Speakers: %v", err)
	}
	if len(ps) != 2 || ps[0].Name != "Ann" || ps[1].Name != "Ben" {
		t.Errorf("Speakers = %+v, want Ann then Ben", ps)
	}
}

func TestRemoveSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Ann")
	ctx := context.Background()

	if err := f.svc.RemoveSpeaker(ctx, "ANN"); err != nil {
		t.Fatalf("RemoveSpeaker: %v", err)
	}
	if f.reg.Len() != 0 {
		t.Errorf("Len() = %d after remove, want 0", f.reg.Len())
	}
	if err := f.svc.RemoveSpeaker(ctx, "Ann"); !errors.Is(err, speaker.ErrNotFound) {
		t.Errorf("second remove = %v, want ErrNotFound", err)
	}
}

func TestClearSpeakers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Ann", "Ben", "Cy")

	n, err := f.svc.ClearSpeakers(context.Background())
	if err != nil {
		t.Fatalf("ClearSpeakers: %v", err)
	}
	if n != 3 || f.reg.Len() != 0 {
		t.Errorf("cleared %d, %d left; want 3 cleared, 0 left", n, f.reg.Len())
	}
	if _, ok := f.reg.Get("Ann"); ok {
		t.Error("Ann still enrolled")
	}
}

func TestIdentify(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Ann", "Ben", "Cy")

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	vp := &vpmock.Extractor{Embedding: []float32{0.2, 1, 0}}
	id := identify.New(vp, f.reg, identify.WithMetrics(metrics))
	svc := admin.New(f.reg, nil, admin.WithRanker(id))

	got, err := svc.Identify(context.Background(), make([]float32, 8000), 16000, identify.ModeGeneral, 2)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Ben" || got[1].Name != "Ann" {
		t.Fatalf("Identify = %+v, want Ben then Ann", got)
	}
	if got[0].Confidence == 0 {
		t.Error("Ben is above the threshold but has zero confidence")
	}
	if got[1].Confidence != 0 {
		t.Errorf("Ann confidence = %v, want 0 below the threshold", got[1].Confidence)
	}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	src := newFixture(t, "Ann", "Ben")
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := src.svc.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("Export count = %d, want 2", n)
	}

	var doc admin.Export
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if doc.Version != admin.ExportVersion || len(doc.Speakers) != 2 {
		t.Fatalf("export doc = version %d with %d speakers", doc.Version, len(doc.Speakers))
	}

	dst := newFixture(t, "Ben")
	res, err := dst.svc.Import(ctx, bytes.NewReader(buf.Bytes()), false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(res.Added) != 1 || res.Added[0] != "Ann" {
		t.Errorf("Added = %v, want [Ann]", res.Added)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "Ben" {
		t.Errorf("Skipped = %v, want [Ben]", res.Skipped)
	}
	if got := dst.reg.Names(); len(got) != 2 || got[0] != "Ben" || got[1] != "Ann" {
		t.Errorf("Names() = %v, want [Ben Ann]", got)
	}
}

func TestImport_Replace(t *testing.T) {
	t.Parallel()
	src := newFixture(t, "Ann", "Ben")
	ctx := context.Background()
	var buf bytes.Buffer
	if _, err := src.svc.Export(ctx, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Ben enrolled along a different axis than in src.
	dst := newFixture(t, "Ann", "Cid", "Ben")
	before, _ := dst.reg.Get("Ben")

	res, err := dst.svc.Import(ctx, &buf, true)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(res.Replaced) != 2 || len(res.Added) != 0 {
		t.Errorf("result = %+v, want two replaced", res)
	}
	after, _ := dst.reg.Get("Ben")
	if after.ID != before.ID {
		t.Errorf("replace changed ID from %s to %s", before.ID, after.ID)
	}
	if speaker.Cosine(after.Embedding, []float32{0, 1, 0}) < 0.99 {
		t.Errorf("Ben embedding = %v, want imported one", after.Embedding)
	}
}

func TestImport_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: "speakers:"},
		{name: "wrong version", doc: `{"version": 7, "speakers": []}`},
		{name: "bad embedding", doc: `{"version": 1, "speakers": [{"name": "Zed", "embedding": [0, 0, 0]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if _, err := f.svc.Import(context.Background(), strings.NewReader(tt.doc), false); err == nil {
				t.Fatal("Import returned nil error")
			}
		})
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		text      string
		want      string
		wantStage command.Stage
	}{
		{text: "jump", want: "jump", wantStage: command.StageDirect},
		{text: "please hop now", want: "jump", wantStage: command.StageWordScan},
		{text: "", want: "", wantStage: command.StageNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, err := f.svc.Extract(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got.Command != tt.want || got.Stage != tt.wantStage {
				t.Errorf("Extract(%q) = %q at %v, want %q at %v", tt.text, got.Command, got.Stage, tt.want, tt.wantStage)
			}
		})
	}
}

func TestMissingDependencies(t *testing.T) {
	t.Parallel()
	svc := admin.New(nil, nil)
	ctx := context.Background()

	if _, err := svc.Speakers(ctx); !errors.Is(err, admin.ErrNoSpeakers) {
		t.Errorf("Speakers = %v, want ErrNoSpeakers", err)
	}
	if _, err := svc.Export(ctx, &bytes.Buffer{}); !errors.Is(err, admin.ErrNoSpeakers) {
		t.Errorf("Export = %v, want ErrNoSpeakers", err)
	}
	if _, err := svc.Extract(ctx, "jump"); !errors.Is(err, admin.ErrNoExtractor) {
		t.Errorf("Extract = %v, want ErrNoExtractor", err)
	}
	if _, err := svc.ClearSpeakers(ctx); !errors.Is(err, admin.ErrNoSpeakers) {
		t.Errorf("ClearSpeakers = %v, want ErrNoSpeakers", err)
	}
	if _, err := svc.Identify(ctx, []float32{0.1}, 16000, identify.ModeGeneral, 1); !errors.Is(err, admin.ErrNoRanker) {
		t.Errorf("Identify = %v, want ErrNoRanker", err)
	}
}
