package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

type OpenAIRouter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIRouter(apiKey, baseURL string) (*OpenAIRouter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key not set (provide it or set OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	return &OpenAIRouter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}, nil
}

func (o *OpenAIRouter) Name() string { return "openai" }

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
}

func (o *OpenAIRouter) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	return routeOpenAICompatible(ctx, o.httpClient, o.Name(), o.baseURL, map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	}, "gpt-4o", req)
}

func routeOpenAICompatible(ctx context.Context, client *http.Client, name, url string, headers map[string]string, defaultModel string, req RouteRequest) (Decision, error) {
	msgs := flatten(req.History)
	if len(msgs) == 0 {
		return Decision{}, ErrEmptyHistory
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	apiReq := openaiRequest{
		Model:       model,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range msgs {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = "auto"
		if req.Mode == ToolModeAny {
			apiReq.ToolChoice = "required"
		}
	}

	var resp openaiResponse
	if err := doLLMRequest(ctx, client, name, url, headers, apiReq, &resp); err != nil {
		return Decision{}, err
	}

	d := Decision{Usage: &Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}}
	for _, choice := range resp.Choices {
		d.Text += choice.Message.Content
		if d.ToolCall != nil || len(choice.Message.ToolCalls) == 0 {
			continue
		}
		tc := choice.Message.ToolCalls[0]
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return Decision{}, fmt.Errorf("%s: decoding tool arguments: %w", name, err)
			}
		}
		d.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
	}
	return d, nil
}
