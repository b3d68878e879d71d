package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/gamevox/internal/pipeline"
)

// ErrUnknownType is returned by [DecodeInbound] for an unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

// Inbound is a control message from a client. The set of implementations
// is closed; handlers switch over it exhaustively.
type Inbound interface {
	inbound()
}

type (
	// StartListening begins command recognition.
	StartListening struct {
		Mode       string `json:"mode,omitempty"`
		SampleRate int    `json:"sample_rate,omitempty"`
		Channels   int    `json:"channels,omitempty"`
	}

	// StopListening ends command recognition.
	StopListening struct{}

	// StartEnrollment begins recording a new speaker.
	StartEnrollment struct {
		Name string `json:"name"`
	}

	// CompleteEnrollment finishes the recording and enrolls the speaker.
	CompleteEnrollment struct {
		Name string `json:"name,omitempty"`
	}

	// CancelEnrollment discards the recording.
	CancelEnrollment struct{}

	// ListSpeakers asks for every enrolled name.
	ListSpeakers struct{}

	// RemoveSpeaker deletes an enrolled speaker.
	RemoveSpeaker struct {
		Name string `json:"name"`
	}

	// StartDance hands the microphone to the dance flow. Recognition stops
	// as with [StopListening]; the dance itself is handled by the client.
	StartDance struct{}

	// Ping asks for a pong.
	Ping struct{}
)

func (StartListening) inbound()     {}
func (StopListening) inbound()      {}
func (StartEnrollment) inbound()    {}
func (CompleteEnrollment) inbound() {}
func (CancelEnrollment) inbound()   {}
func (ListSpeakers) inbound()       {}
func (RemoveSpeaker) inbound()      {}
func (StartDance) inbound()         {}
func (Ping) inbound()               {}

// DecodeInbound parses a text frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	var msg Inbound
	switch env.Type {
	case "start_listening":
		msg = &StartListening{}
	case "stop_listening":
		return StopListening{}, nil
	case "start_enrollment":
		msg = &StartEnrollment{}
	case "complete_enrollment":
		msg = &CompleteEnrollment{}
	case "cancel_enrollment":
		return CancelEnrollment{}, nil
	case "list_speakers":
		return ListSpeakers{}, nil
	case "remove_speaker":
		msg = &RemoveSpeaker{}
	case "start_dance":
		return StartDance{}, nil
	case "ping":
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", env.Type, err)
	}
	switch m := msg.(type) {
	case *StartListening:
		return *m, nil
	case *StartEnrollment:
		return *m, nil
	case *CompleteEnrollment:
		return *m, nil
	case *RemoveSpeaker:
		return *m, nil
	}
	return msg, nil
}

// Outbound messages. Each carries its wire type in Type.
type (
	enrollmentStarted struct {
		Type            string  `json:"type"`
		Name            string  `json:"name"`
		DurationSeconds float64 `json:"duration_seconds"`
	}

	enrollmentProgress struct {
		Type            string  `json:"type"`
		Name            string  `json:"name"`
		ElapsedSeconds  float64 `json:"elapsed_seconds"`
		RecordedSeconds float64 `json:"recorded_seconds"`
	}

	enrollmentComplete struct {
		Type    string  `json:"type"`
		Success bool    `json:"success"`
		Name    *string `json:"name"`
		Message string  `json:"message"`
	}

	speakersList struct {
		Type     string   `json:"type"`
		Speakers []string `json:"speakers"`
	}

	speakerRemoved struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Success bool   `json:"success"`
	}

	commandMessage struct {
		Type              string  `json:"type"`
		Player            string  `json:"player"`
		Speaker           string  `json:"speaker"`
		SpeakerConfidence float64 `json:"speaker_confidence"`
		Command           string  `json:"command"`
		RawText           string  `json:"raw_text"`
		CommandConfidence float64 `json:"command_confidence"`
		Volume            float64 `json:"volume"`
		SpeechDuration    float64 `json:"speech_duration"`
		Timestamp         string  `json:"timestamp"`
	}

	errorMessage struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}

	// bare is a message with nothing but its type.
	bare struct {
		Type string `json:"type"`
	}
)

func newCommandMessage(e pipeline.Event) commandMessage {
	return commandMessage{
		Type:              "command",
		Player:            e.Player,
		Speaker:           e.Speaker,
		SpeakerConfidence: e.SpeakerConfidence,
		Command:           e.Command,
		RawText:           e.RawText,
		CommandConfidence: e.CommandConfidence,
		Volume:            e.Volume,
		SpeechDuration:    e.SpeechDuration.Seconds(),
		Timestamp:         e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func newError(msg string) errorMessage {
	return errorMessage{Type: "error", Message: msg}
}

func newEnrollmentComplete(ok bool, name, msg string) enrollmentComplete {
	m := enrollmentComplete{Type: "enrollment_complete", Success: ok, Message: msg}
	if name != "" {
		m.Name = &name
	}
	return m
}
