// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the command parser one code path for hosted APIs (OpenAI,
// Anthropic, Gemini, ...) and local servers (Ollama, llama.cpp, llamafile).
//
// For command parsing the local backends are usually the interesting ones:
// the whole call has a few hundred milliseconds to finish.
//
//	p, err := anyllm.New("ollama", "qwen2.5:1.5b")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap erases the concrete return type of a backend constructor.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) factory {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var backends = map[string]factory{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Backends lists the accepted backend names, sorted.
func Backends() []string { return slices.Sorted(maps.Keys(backends)) }

// Provider is an [llm.Provider] for one model on one any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New returns a provider for model on the named backend (case-insensitive,
// see [Backends]). opts are passed to the backend; without
// anyllmlib.WithAPIKey hosted backends read their usual environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(backend)
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend must not be empty")
	case model == "":
		return nil, errors.New("anyllm: model must not be empty")
	}
	mk, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}
	b, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// NewOllama is New("ollama", ...). Without options it connects to
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewLlamaCpp is New("llamacpp", ...). Without options it connects to
// http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts...)
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name + "/" + p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if req.SystemPrompt == "" && len(req.Messages) == 0 {
		return nil, errors.New("anyllm: no messages")
	}
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: empty choices in response")
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// params builds the backend request. Backends here cannot be relied on to
// enforce a schema, so a requested schema is spelled out in the system
// prompt instead and the caller repairs whatever comes back.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if sys := systemText(req); sys != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: sys})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}

	temp := req.Temperature
	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs, Temperature: &temp}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func systemText(req llm.CompletionRequest) string {
	if req.Schema == nil {
		return req.SystemPrompt
	}
	doc, err := json.Marshal(req.Schema.Definition)
	if err != nil {
		return req.SystemPrompt
	}
	hint := "Your reply must be a single JSON value matching this JSON Schema:\n" + string(doc)
	if req.SystemPrompt == "" {
		return hint
	}
	return req.SystemPrompt + "\n\n" + hint
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}
