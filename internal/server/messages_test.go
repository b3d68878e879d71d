package server

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/gamevox/internal/pipeline"
)

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Inbound
	}{
		{`{"type":"start_listening"}`, StartListening{}},
		{`{"type":"start_listening","mode":"gameplay","sample_rate":48000}`, StartListening{Mode: "gameplay", SampleRate: 48000}},
		{`{"type":"stop_listening"}`, StopListening{}},
		{`{"type":"start_enrollment","name":"Ann"}`, StartEnrollment{Name: "Ann"}},
		{`{"type":"complete_enrollment","name":"Ann"}`, CompleteEnrollment{Name: "Ann"}},
		{`{"type":"complete_enrollment"}`, CompleteEnrollment{}},
		{`{"type":"cancel_enrollment"}`, CancelEnrollment{}},
		{`{"type":"list_speakers"}`, ListSpeakers{}},
		{`{"type":"remove_speaker","name":"Bob"}`, RemoveSpeaker{Name: "Bob"}},
		{`{"type":"start_dance"}`, StartDance{}},
		{`{"type":"ping"}`, Ping{}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tc.in))
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeInbound_Errors(t *testing.T) {
	t.Parallel()

	_, err := DecodeInbound([]byte(`{"type":"finish_dance"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
	if err.Error() != "unknown message type: finish_dance" {
		t.Errorf("message = %q", err.Error())
	}

	for _, in := range []string{`not json`, `{"type":"start_enrollment","name":42}`} {
		if _, err := DecodeInbound([]byte(in)); err == nil {
			t.Errorf("DecodeInbound(%s): expected error", in)
		}
	}
}

func TestCommandMessage(t *testing.T) {
	t.Parallel()

	e := pipeline.Event{
		Timestamp:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)),
		Speaker:           "Ann",
		SpeakerConfidence: 0.8,
		Command:           "jump",
		RawText:           "jump!",
		CommandConfidence: 0.95,
		Player:            "player1",
		Volume:            0.5,
		SpeechDuration:    1500 * time.Millisecond,
	}
	data, err := json.Marshal(newCommandMessage(e))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type":               "command",
		"player":             "player1",
		"speaker":            "Ann",
		"speaker_confidence": 0.8,
		"command":            "jump",
		"raw_text":           "jump!",
		"command_confidence": 0.95,
		"volume":             0.5,
		"speech_duration":    1.5,
		"timestamp":          "2026-03-01T11:00:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v\nwant %v", got, want)
	}
}

func TestEnrollmentComplete_NullName(t *testing.T) {
	t.Parallel()

	data, _ := json.Marshal(newEnrollmentComplete(false, "", "Not enough audio collected"))
	want := `{"type":"enrollment_complete","success":false,"name":null,"message":"Not enough audio collected"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
