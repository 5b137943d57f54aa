package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/igorsilveira/switchboard/pkg/fragment"
)

const geminiDefaultModel = "gemini-2.0-flash"

type GeminiRouter struct {
	client *genai.Client
}

type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL points the client at another endpoint, mostly for tests.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = hc
	}
}

func NewGeminiRouter(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiRouter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key not set (provide it or set GEMINI_API_KEY)")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiRouter{client: client}, nil
}

func (g *GeminiRouter) Name() string { return "gemini" }

func (g *GeminiRouter) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	contents := toGenaiContents(req.History)
	if len(contents) == 0 {
		return Decision{}, ErrEmptyHistory
	}

	model := req.Model
	if model == "" {
		model = geminiDefaultModel
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		fc := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
		if req.Mode == ToolModeAny {
			fc.Mode = genai.FunctionCallingConfigModeAny
			fc.AllowedFunctionNames = toolNames(req.Tools)
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fc}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Decision{}, fmt.Errorf("gemini: generating content: %w", err)
	}
	return parseGenaiResponse(resp)
}

func parseGenaiResponse(resp *genai.GenerateContentResponse) (Decision, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Decision{}, fmt.Errorf("gemini: empty response")
	}

	var d Decision
	if u := resp.UsageMetadata; u != nil {
		d.Usage = &Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil && d.ToolCall == nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			d.ToolCall = &ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: args,
			}
		}
	}
	d.Text = text.String()
	return d, nil
}

// toGenaiContents maps turns onto Gemini contents. Inline data is passed
// through; forms are sent as their JSON text.
func toGenaiContents(history []fragment.Turn) []*genai.Content {
	var out []*genai.Content
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == fragment.RoleModel {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, p := range t.Parts {
			switch {
			case p.InlineData != nil:
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{
					MIMEType: p.InlineData.MimeType,
					Data:     p.InlineData.Data,
				}})
			case p.Form != nil:
				b, _ := json.Marshal(p.Form)
				parts = append(parts, genai.NewPartFromText(string(b)))
			case p.Text != "":
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == string(role) {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			continue
		}
		out = append(out, &genai.Content{Role: string(role), Parts: parts})
	}
	return out
}

func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	switch required := schema["required"].(type) {
	case []string:
		s.Required = append(s.Required, required...)
	case []any:
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}
