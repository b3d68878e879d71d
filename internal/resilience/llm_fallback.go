package resilience

import (
	"context"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] guarding the command parser's model
// calls. With one entry it is just a breaker, which is enough to stop a
// dead endpoint from costing every window its full LLM timeout.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a failover provider preferring primary.
func NewLLMFallback(primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers another backend, tried after the existing ones.
func (f *LLMFallback) AddFallback(p llm.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name is the primary backend's name.
func (f *LLMFallback) Name() string { return f.group.Primary() }

// Available reports whether any backend would be called right now.
func (f *LLMFallback) Available() bool { return f.group.Available() }

// Complete returns the first backend's answer.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := Call(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}
