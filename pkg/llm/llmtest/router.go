// Package llmtest provides a scripted Router for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/igorsilveira/switchboard/pkg/llm"
)

var ErrScriptExhausted = errors.New("llmtest: no more scripted decisions")

// Router replays decisions in order and records every request.
type Router struct {
	mu        sync.Mutex
	decisions []llm.Decision
	errs      []error
	requests  []llm.RouteRequest
}

func New(decisions ...llm.Decision) *Router {
	return &Router{decisions: decisions}
}

// Call returns a decision invoking tool with message.
func Call(tool, message string) llm.Decision {
	return llm.Decision{ToolCall: &llm.ToolCall{
		ID:   "call-" + tool,
		Name: tool,
		Args: map[string]any{"message": message},
	}}
}

func Text(s string) llm.Decision {
	return llm.Decision{Text: s}
}

// Fail queues an error returned in place of the next decision.
func (r *Router) Fail(err error) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return r
}

func (r *Router) Name() string { return "scripted" }

func (r *Router) Route(ctx context.Context, req llm.RouteRequest) (llm.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return llm.Decision{}, err
	}
	if len(r.decisions) == 0 {
		return llm.Decision{}, ErrScriptExhausted
	}
	d := r.decisions[0]
	r.decisions = r.decisions[1:]
	return d, nil
}

func (r *Router) Requests() []llm.RouteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.RouteRequest(nil), r.requests...)
}
