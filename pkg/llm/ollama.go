package llm

import (
	"context"
	"net/http"
	"os"
)

const ollamaDefaultURL = "http://localhost:11434/v1/chat/completions"

// OllamaRouter talks to a local Ollama server through its OpenAI-compatible
// endpoint. No API key is needed.
type OllamaRouter struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaRouter(baseURL, model string) *OllamaRouter {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaRouter{baseURL: baseURL, model: model, httpClient: &http.Client{}}
}

func (o *OllamaRouter) Name() string { return "ollama" }

func (o *OllamaRouter) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	return routeOpenAICompatible(ctx, o.httpClient, o.Name(), o.baseURL, nil, o.model, req)
}
