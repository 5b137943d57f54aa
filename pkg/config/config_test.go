package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Gateway.Port)
	}
	if cfg.Router.ToolMode != "any" {
		t.Errorf("Router.ToolMode = %q, want %q", cfg.Router.ToolMode, "any")
	}
	if cfg.Stream.MaxRetries != 3 {
		t.Errorf("Stream.MaxRetries = %d, want 3", cfg.Stream.MaxRetries)
	}
	if len(cfg.Agents) != 3 {
		t.Errorf("Agents = %v, want 3 defaults", cfg.Agents)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Gateway.Port)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
[gateway]
port = 9999
bind = "lan"
turn_ttl = "10m"

[router]
provider = "openai"
model = "gpt-4o"
tool_mode = "auto"
temperature = 0.2

[[agents]]
url = "http://weather:10000"
session = "s-1"

[[agents]]
url = "http://stocks:10001"
token = "secret"

[stream]
max_retries = 5
retry_step = "250ms"
gap_policy = "silent"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 || cfg.Gateway.Bind != "lan" {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if cfg.Router.Provider != "openai" || cfg.Router.Model != "gpt-4o" || cfg.Router.ToolMode != "auto" {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if cfg.Router.Temperature == nil || *cfg.Router.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.Router.Temperature)
	}
	want := []AgentConfig{
		{URL: "http://weather:10000", Session: "s-1"},
		{URL: "http://stocks:10001", Token: "secret"},
	}
	if diff := cmp.Diff(want, cfg.Agents); diff != "" {
		t.Errorf("Agents mismatch (-want +got):\n%s", diff)
	}
	if got := Duration(cfg.Stream.RetryStep, time.Second); got != 250*time.Millisecond {
		t.Errorf("RetryStep = %v, want 250ms", got)
	}
	if cfg.Stream.GapPolicy != "silent" {
		t.Errorf("GapPolicy = %q", cfg.Stream.GapPolicy)
	}
	// Sections left out keep their defaults.
	if cfg.Log.Level != "info" || !cfg.Audit.Enabled {
		t.Errorf("defaults lost: log=%+v audit=%+v", cfg.Log, cfg.Audit)
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "not [valid toml"))
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"duration", "[stream]\nretry_step = \"soon\"", "stream.retry_step"},
		{"gap policy", "[stream]\ngap_policy = \"drop\"", "gap_policy"},
		{"tool mode", "[router]\ntool_mode = \"none\"", "tool_mode"},
		{"negative retries", "[stream]\nmax_retries = -1", "max_retries"},
		{"agent url", "[[agents]]\nsession = \"x\"", "url is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestAgentURLsEnv(t *testing.T) {
	t.Setenv("SWITCHBOARD_AGENT_URLS", "http://a:1, http://b:2,,")
	cfg, err := Load(writeConfig(t, "[[agents]]\nurl = \"http://ignored\""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []AgentConfig{{URL: "http://a:1"}, {URL: "http://b:2"}}
	if diff := cmp.Diff(want, cfg.Agents); diff != "" {
		t.Errorf("Agents mismatch (-want +got):\n%s", diff)
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("CUSTOM_KEY", "c-key")

	if got := (RouterConfig{Provider: "gemini"}).APIKey(); got != "g-key" {
		t.Errorf("gemini key = %q", got)
	}
	if got := (RouterConfig{Provider: "gemini", APIKeyEnv: "CUSTOM_KEY"}).APIKey(); got != "c-key" {
		t.Errorf("custom key = %q", got)
	}
	if got := (RouterConfig{Provider: "ollama"}).APIKey(); got != "" {
		t.Errorf("ollama key = %q, want empty", got)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("empty = %v", got)
	}
	if got := Duration("bogus", time.Minute); got != time.Minute {
		t.Errorf("invalid = %v", got)
	}
	if got := Duration("2s", time.Minute); got != 2*time.Second {
		t.Errorf("2s = %v", got)
	}
}

func TestCurrent(t *testing.T) {
	cfg := Current()
	if cfg == nil {
		t.Fatal("Current returned nil")
	}
}

func TestDataDir(t *testing.T) {
	dir := DataDir()
	if dir == "" {
		t.Fatal("DataDir returned empty")
	}
}

func TestDataDirEnv(t *testing.T) {
	t.Setenv("SWITCHBOARD_DATA_DIR", "/tmp/custom-switchboard")
	dir := DataDir()
	if dir != "/tmp/custom-switchboard" {
		t.Errorf("DataDir = %q, want /tmp/custom-switchboard", dir)
	}
}
