package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

// fakeServer answers /chat/completions with reply and records the last
// request body.
type fakeServer struct {
	*httptest.Server
	mu   sync.Mutex
	body map[string]any
}

func newFakeServer(t *testing.T, reply string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		fs.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&fs.body)
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) request() map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.body
}

func completion(finish, content, refusal string) string {
	msg, _ := json.Marshal(map[string]any{"role": "assistant", "content": content, "refusal": refusal})
	return `{"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "` + finish + `", "message": ` + string(msg) + `}],
		"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}}`
}

func newProvider(t *testing.T, url string) *Provider {
	t.Helper()
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(url))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

var parseRequest = llm.CompletionRequest{
	SystemPrompt: "parse commands",
	Messages:     []llm.Message{{Role: llm.RoleUser, Content: `Transcribed speech: "go up"`}},
	MaxTokens:    50,
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got, err := convertMessage(llm.Message{Role: role, Content: "x"})
		if err != nil {
			t.Fatalf("%s: %v", role, err)
		}
		set := map[string]bool{
			llm.RoleSystem:    got.OfSystem != nil,
			llm.RoleUser:      got.OfUser != nil,
			llm.RoleAssistant: got.OfAssistant != nil,
		}
		if !set[role] {
			t.Errorf("%s: wrong union member set", role)
		}
	}
	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Error("tool role accepted")
	}
}

func TestParams_NoMessages(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "gpt-4o-mini")
	if _, err := p.params(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestComplete_ResponseFormat(t *testing.T) {
	t.Parallel()

	schema := &llm.Schema{
		Name: "voice_command",
		Definition: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"enum": []any{"up", nil}}},
		},
	}
	tests := []struct {
		name     string
		json     bool
		schema   *llm.Schema
		wantType string
	}{
		{name: "text", wantType: ""},
		{name: "json object", json: true, wantType: "json_object"},
		{name: "json schema", schema: schema, wantType: "json_schema"},
		{name: "schema wins over json", json: true, schema: schema, wantType: "json_schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newFakeServer(t, completion("stop", `{"command": "up", "confidence": 0.9}`, ""))
			p := newProvider(t, srv.URL)

			req := parseRequest
			req.JSON, req.Schema = tt.json, tt.schema
			if _, err := p.Complete(context.Background(), req); err != nil {
				t.Fatalf("Complete: %v", err)
			}

			rf, _ := srv.request()["response_format"].(map[string]any)
			if got, _ := rf["type"].(string); got != tt.wantType {
				t.Fatalf("response_format = %v, want type %q", rf, tt.wantType)
			}
			if tt.wantType != "json_schema" {
				return
			}
			js, _ := rf["json_schema"].(map[string]any)
			if js["name"] != "voice_command" || js["strict"] != true {
				t.Errorf("json_schema = %v", js)
			}
			if _, ok := js["schema"].(map[string]any)["properties"]; !ok {
				t.Errorf("schema body not forwarded: %v", js["schema"])
			}
		})
	}
}

func TestComplete_SendsDeterministicRequest(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, completion("stop", `{"command": "up", "confidence": 0.9}`, ""))
	p := newProvider(t, srv.URL)
	if p.Name() != "openai/gpt-4o-mini" {
		t.Errorf("Name() = %q", p.Name())
	}

	resp, err := p.Complete(context.Background(), parseRequest)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"command": "up", "confidence": 0.9}` || resp.Usage.TotalTokens != 48 {
		t.Errorf("resp = %+v", resp)
	}

	body := srv.request()
	if temp, ok := body["temperature"].(float64); !ok || temp != 0 {
		t.Errorf("temperature = %v, want explicit 0", body["temperature"])
	}
	if mt, _ := body["max_completion_tokens"].(float64); mt != 50 {
		t.Errorf("max_completion_tokens = %v, want 50", body["max_completion_tokens"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %d, want system + user", len(msgs))
	}
}

func TestComplete_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		json    bool
		wantErr error
	}{
		{name: "refusal", reply: completion("stop", "", "I can't help with that"), wantErr: ErrRefused},
		{name: "truncated json", reply: completion("length", `{"command": "u`, ""), json: true, wantErr: ErrTruncated},
		{name: "no choices", reply: `{"id": "c1", "object": "chat.completion", "choices": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newFakeServer(t, tt.reply)
			req := parseRequest
			req.JSON = tt.json
			_, err := newProvider(t, srv.URL).Complete(context.Background(), req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestComplete_TruncatedTextIsFine(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, completion("length", "jump and then", ""))
	resp, err := newProvider(t, srv.URL).Complete(context.Background(), parseRequest)
	if err != nil || resp.Content != "jump and then" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newProvider(t, srv.URL).Complete(context.Background(), parseRequest); err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr bool
	}{
		{name: "missing key", model: "gpt-4o", wantErr: true},
		{name: "missing model", key: "sk-test", wantErr: true},
		{name: "options", key: "sk-test", model: "gpt-4o", opts: []Option{
			WithBaseURL("https://custom.example.com"), WithOrganization("org-123"), WithTimeout(0),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.key, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
