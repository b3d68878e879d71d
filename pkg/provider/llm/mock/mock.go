// Package mock provides a scripted llm.Provider for tests.
//
// Provider records every request so tests can inspect prompts and
// deadlines, and answers from a fixed response, a queue of replies, or an
// error. Delay simulates a slow model and honours cancellation, which is
// how the command parser's timeout is tested.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"command":"jump","confidence":0.9}`},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete in this order of precedence: CompleteErr, the
// next entry of Replies, CompleteResponse. With none of them set Complete
// returns nil, nil.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Replies are consumed one per call as response content. Once empty,
	// CompleteResponse applies again.
	Replies []string

	// Delay is waited before answering; a cancelled ctx cuts it short with
	// ctx.Err().
	Delay time.Duration

	// CompleteCalls lists every invocation in order.
	CompleteCalls []CompleteCall
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Complete records the call and answers as documented on [Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	resp, err, delay := p.CompleteResponse, p.CompleteErr, p.Delay
	if err == nil && len(p.Replies) > 0 {
		resp = &llm.CompletionResponse{Content: p.Replies[0]}
		p.Replies = p.Replies[1:]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CallCount returns how many times Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastRequest returns the most recent request, or false before any call.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

// Reset forgets recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
