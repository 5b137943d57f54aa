package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Router    RouterConfig    `toml:"router"`
	Agents    []AgentConfig   `toml:"agents"`
	Stream    StreamConfig    `toml:"stream"`
	Push      PushConfig      `toml:"push"`
	Store     StoreConfig     `toml:"store"`
	Audit     AuditConfig     `toml:"audit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type GatewayConfig struct {
	Bind  string `toml:"bind"`
	Port  int    `toml:"port"`
	Token string `toml:"token"`
	// TurnTTL is how long a finished turn can still be resumed.
	TurnTTL string `toml:"turn_ttl"`
}

type RouterConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	APIKeyEnv   string   `toml:"api_key_env"`
	ToolMode    string   `toml:"tool_mode"`
	Temperature *float64 `toml:"temperature"`
	System      string   `toml:"system"`
}

type AgentConfig struct {
	URL     string `toml:"url"`
	Session string `toml:"session"`
	Token   string `toml:"token"`
}

type StreamConfig struct {
	MaxRetries int    `toml:"max_retries"`
	RetryStep  string `toml:"retry_step"`
	GapPolicy  string `toml:"gap_policy"`
}

// PushConfig enables push notifications. ReceiverURL is the base URL agents
// post to; empty means the gateway itself.
type PushConfig struct {
	Enabled     bool   `toml:"enabled"`
	ReceiverURL string `toml:"receiver_url"`
}

type StoreConfig struct {
	Path string `toml:"path"`
	// Retention prunes finished tasks older than this. Empty keeps everything.
	Retention string `toml:"retention"`
}

type AuditConfig struct {
	Enabled bool `toml:"enabled"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	ServiceName  string  `toml:"service_name"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

type SchedulerConfig struct {
	SweepInterval string `toml:"sweep_interval"`
}

// providerKeyEnv is the API key variable read when api_key_env is unset.
var providerKeyEnv = map[string]string{
	"gemini":    "GOOGLE_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gateway: GatewayConfig{
			Bind:    "loopback",
			Port:    8000,
			TurnTTL: "5m",
		},
		Router: RouterConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			ToolMode: "any",
		},
		Agents: []AgentConfig{
			{URL: "http://localhost:10000"},
			{URL: "http://localhost:10001"},
			{URL: "http://localhost:10002"},
		},
		Stream: StreamConfig{
			MaxRetries: 3,
			RetryStep:  "1.5s",
			GapPolicy:  "flag",
		},
		Store: StoreConfig{
			Path: filepath.Join(DataDir(), "switchboard.db"),
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "switchboard",
		},
		Scheduler: SchedulerConfig{
			SweepInterval: "1m",
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		// Agents listed in the file replace the defaults.
		cfg.Agents = nil
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(DataDir(), "switchboard.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_AGENT_URLS"); v != "" {
		cfg.Agents = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Agents = append(cfg.Agents, AgentConfig{URL: u})
			}
		}
	}
}

// Validate checks the values that are parsed lazily elsewhere so a bad file
// fails at load time.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"gateway.turn_ttl":         c.Gateway.TurnTTL,
		"stream.retry_step":        c.Stream.RetryStep,
		"store.retention":          c.Store.Retention,
		"scheduler.sweep_interval": c.Scheduler.SweepInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	switch c.Stream.GapPolicy {
	case "", "flag", "silent":
	default:
		return fmt.Errorf("invalid stream.gap_policy %q", c.Stream.GapPolicy)
	}
	switch c.Router.ToolMode {
	case "", "any", "auto":
	default:
		return fmt.Errorf("invalid router.tool_mode %q", c.Router.ToolMode)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("invalid telemetry.sample_ratio %v", c.Telemetry.SampleRatio)
	}
	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("invalid stream.max_retries %d", c.Stream.MaxRetries)
	}
	for i, a := range c.Agents {
		if a.URL == "" {
			return fmt.Errorf("agents[%d]: url is required", i)
		}
	}
	return nil
}

// APIKey resolves the router key from api_key_env, falling back to the
// provider's conventional variable.
func (r RouterConfig) APIKey() string {
	env := r.APIKeyEnv
	if env == "" {
		env = providerKeyEnv[strings.ToLower(r.Provider)]
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// Duration parses s, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("SWITCHBOARD_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".switchboard"
	}
	return filepath.Join(home, ".switchboard")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "switchboard.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
