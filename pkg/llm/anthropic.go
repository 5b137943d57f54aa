package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
)

type AnthropicRouter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicRouter(apiKey, baseURL string) (*AnthropicRouter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	if apiKey == "" && baseURL == anthropicDefaultBaseURL {
		return nil, fmt.Errorf("anthropic: API key not set (provide it or set ANTHROPIC_API_KEY)")
	}
	return &AnthropicRouter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}, nil
}

func (a *AnthropicRouter) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicRouter) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	msgs := flatten(req.History)
	if len(msgs) == 0 {
		return Decision{}, ErrEmptyHistory
	}

	model := req.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	apiReq := anthropicRequest{
		Model:       model,
		MaxTokens:   1024,
		System:      req.System,
		Temperature: req.Temperature,
	}
	// The Messages API wants the first turn to come from the user.
	if msgs[0].Role != RoleUser {
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: RoleUser, Content: "(conversation resumed)"})
	}
	for _, m := range msgs {
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = &anthropicToolChoice{Type: "auto"}
		if req.Mode == ToolModeAny {
			apiReq.ToolChoice.Type = "any"
		}
	}

	var resp anthropicResponse
	err := doLLMRequest(ctx, a.httpClient, a.Name(), a.baseURL+anthropicMessagesPath, map[string]string{
		"X-Api-Key":         a.apiKey,
		"Anthropic-Version": anthropicAPIVersion,
	}, apiReq, &resp)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Usage: &Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			d.Text += block.Text
		case "tool_use":
			if d.ToolCall != nil {
				continue
			}
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			d.ToolCall = &ToolCall{ID: block.ID, Name: block.Name, Args: args}
		}
	}
	return d, nil
}
