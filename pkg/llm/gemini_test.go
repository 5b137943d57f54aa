package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/igorsilveira/switchboard/pkg/fragment"
)

func TestGeminiRoute_FunctionCall(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"Weather_Agent","args":{"message":"Paris"}}}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}`))
	}))
	defer srv.Close()

	r, err := NewGeminiRouter(context.Background(), "test-key", WithGeminiBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewGeminiRouter: %v", err)
	}
	d, err := r.Route(context.Background(), RouteRequest{
		History: []fragment.Turn{fragment.UserText("weather in Paris")},
		Tools: []ToolDefinition{{
			Name: "Weather_Agent",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"message": map[string]any{"type": "string"}},
				"required":   []string{"message"},
			},
		}},
		Mode: ToolModeAny,
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	want := &ToolCall{Name: "Weather_Agent", Args: map[string]any{"message": "Paris"}}
	if diff := cmp.Diff(want, d.ToolCall); diff != "" {
		t.Errorf("ToolCall mismatch (-want +got):\n%s", diff)
	}
	if d.Usage == nil || d.Usage.InputTokens != 7 {
		t.Errorf("Usage = %+v", d.Usage)
	}

	toolConfig, _ := body["toolConfig"].(map[string]any)
	fcc, _ := toolConfig["functionCallingConfig"].(map[string]any)
	if fcc["mode"] != "ANY" {
		t.Errorf("functionCallingConfig = %v, want mode ANY", fcc)
	}
}

func TestGeminiRoute_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello"},{"text":" there"}]}}]}`))
	}))
	defer srv.Close()

	r, _ := NewGeminiRouter(context.Background(), "test-key", WithGeminiBaseURL(srv.URL))
	d, err := r.Route(context.Background(), RouteRequest{History: []fragment.Turn{fragment.UserText("hi")}, Mode: ToolModeAuto})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Text != "Hello there" || d.ToolCall != nil {
		t.Errorf("decision = %+v", d)
	}
}

func TestToGenaiContents(t *testing.T) {
	history := []fragment.Turn{
		fragment.UserText("look"),
		{Role: fragment.RoleUser, Parts: []fragment.Part{{InlineData: &fragment.InlineData{MimeType: "image/png", Data: []byte{1}}}}},
		{Role: fragment.RoleModel, Parts: []fragment.Part{{Form: map[string]any{"a": "b"}}}},
		{Role: fragment.RoleModel},
	}
	got := toGenaiContents(history)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != genai.RoleUser || len(got[0].Parts) != 2 || got[0].Parts[1].InlineData == nil {
		t.Errorf("user content = %+v", got[0])
	}
	if got[1].Role != genai.RoleModel || got[1].Parts[0].Text != `{"a":"b"}` {
		t.Errorf("model content = %+v", got[1].Parts[0])
	}
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "text"},
		},
		"required": []any{"message"},
	})
	if s.Type != genai.TypeObject {
		t.Errorf("Type = %q", s.Type)
	}
	if s.Properties["message"].Type != genai.TypeString || s.Properties["message"].Description != "text" {
		t.Errorf("message = %+v", s.Properties["message"])
	}
	if diff := cmp.Diff([]string{"message"}, s.Required); diff != "" {
		t.Errorf("Required mismatch:\n%s", diff)
	}
}
