// Package llm adapts reasoning services into routers: given the conversation
// and a tool catalogue they answer with either free text or one tool call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/igorsilveira/switchboard/pkg/fragment"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ToolMode controls whether the service must call a tool.
type ToolMode string

const (
	// ToolModeAny forces exactly one call to one of the offered tools.
	ToolModeAny ToolMode = "any"
	// ToolModeAuto lets the service answer with text instead.
	ToolModeAuto ToolMode = "auto"
)

func ParseToolMode(s string) (ToolMode, error) {
	switch ToolMode(strings.ToLower(s)) {
	case "", ToolModeAny:
		return ToolModeAny, nil
	case ToolModeAuto:
		return ToolModeAuto, nil
	default:
		return "", fmt.Errorf("unknown tool mode %q", s)
	}
}

var ErrEmptyHistory = errors.New("llm: empty conversation history")

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type RouteRequest struct {
	Model       string
	System      string
	History     []fragment.Turn
	Tools       []ToolDefinition
	Mode        ToolMode
	Temperature *float64
}

// Decision is the router's answer. ToolCall is nil for a free-text answer.
type Decision struct {
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
}

type Router interface {
	Name() string
	Route(ctx context.Context, req RouteRequest) (Decision, error)
}

func toolNames(tools []ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// flatten renders history as role/text pairs for text-only APIs. Adjacent
// turns with the same role are merged.
func flatten(history []fragment.Turn) []ChatMessage {
	var out []ChatMessage
	for _, t := range history {
		role := RoleUser
		if t.Role == fragment.RoleModel {
			role = RoleAssistant
		}
		text := t.Text()
		if text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + text
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: text})
	}
	return out
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options selects and configures a router implementation.
type Options struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

func New(ctx context.Context, opts Options) (Router, error) {
	switch strings.ToLower(opts.Provider) {
	case "gemini", "":
		var gopts []GeminiOption
		if opts.BaseURL != "" {
			gopts = append(gopts, WithGeminiBaseURL(opts.BaseURL))
		}
		return NewGeminiRouter(ctx, opts.APIKey, gopts...)
	case "openai":
		return NewOpenAIRouter(opts.APIKey, opts.BaseURL)
	case "anthropic":
		return NewAnthropicRouter(opts.APIKey, opts.BaseURL)
	case "ollama":
		return NewOllamaRouter(opts.BaseURL, opts.Model), nil
	default:
		return nil, fmt.Errorf("unknown router provider %q", opts.Provider)
	}
}
