// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a
// local Ollama or llama.cpp server, ...) and exposes a single blocking
// completion call. gamevox only uses an LLM as the last-resort command
// parser, so requests are short, deterministic (temperature 0) and capped to
// a handful of output tokens.
//
// Implementors must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction sent before
	// Messages as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. It is
	// always sent, so the zero value requests greedy decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSON asks the backend to constrain its output to a JSON object when it
	// supports doing so. Backends without such a mode ignore it.
	JSON bool

	// Schema, when set, narrows JSON further to a single JSON Schema. It
	// implies JSON. Backends fall back to plain JSON mode when they cannot
	// enforce a schema.
	Schema *Schema
}

// Schema names a JSON Schema the reply must validate against.
type Schema struct {
	// Name identifies the schema to the backend ([a-zA-Z0-9_-], max 64).
	Name string

	// Definition is the schema document itself, e.g.
	// {"type": "object", "properties": {...}, "required": [...]}.
	Definition map[string]any
}

// WantsJSON reports whether the request asks for a JSON reply in any form.
func (r CompletionRequest) WantsJSON() bool { return r.JSON || r.Schema != nil }

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend in logs and metrics (e.g. "openai/gpt-4o-mini").
	Name() string
}
