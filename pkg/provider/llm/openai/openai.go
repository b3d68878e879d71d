// Package openai talks to the OpenAI chat completions API, or to any server
// that speaks it (llama.cpp, vLLM, LM Studio) when pointed there with
// WithBaseURL.
//
// Requests carrying an [llm.Schema] are sent with a strict json_schema
// response format, so the reply is guaranteed to parse. Plain JSON requests
// use json_object mode.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// ErrRefused is returned when the model declines to answer. The refusal
// text is part of the wrapping error.
var ErrRefused = errors.New("openai: model refused")

// ErrTruncated is returned when a JSON reply hit the token cap before it
// was complete.
var ErrTruncated = errors.New("openai: reply truncated by token limit")

// Provider is an [llm.Provider] for one chat model.
type Provider struct {
	client oai.Client
	model  string
}

type settings struct {
	baseURL string
	org     string
	timeout time.Duration
}

// Option tweaks how the client is built.
type Option func(*settings)

// WithBaseURL points the client at a compatible server instead of OpenAI.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option { return func(s *settings) { s.org = org } }

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// New returns a provider for model. The SDK's own retries are off: the
// command parser gives the model one short attempt per window.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		ro = append(ro, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{client: oai.NewClient(ro...), model: model}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "openai/" + p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}
	if req.WantsJSON() && choice.FinishReason == "length" {
		return nil, ErrTruncated
	}
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: no messages")
	}

	params := oai.ChatCompletionNewParams{
		Model:       oai.ChatModel(p.model),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	params.ResponseFormat = responseFormat(req)
	return params, nil
}

// responseFormat picks json_schema, json_object or the server default.
func responseFormat(req llm.CompletionRequest) oai.ChatCompletionNewParamsResponseFormatUnion {
	switch {
	case req.Schema != nil:
		return oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
				JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Definition,
					Strict: param.NewOpt(true),
				},
			},
		}
	case req.JSON:
		return oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &oai.ResponseFormatJSONObjectParam{},
		}
	default:
		return oai.ChatCompletionNewParamsResponseFormatUnion{}
	}
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
