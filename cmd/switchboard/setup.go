package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/audit"
	"github.com/igorsilveira/switchboard/pkg/config"
	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/llm"
	"github.com/igorsilveira/switchboard/pkg/store"
	"github.com/igorsilveira/switchboard/pkg/stream"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func streamPolicy(cfg *config.Config) stream.Policy {
	p := stream.DefaultPolicy()
	p.MaxRetries = cfg.Stream.MaxRetries
	p.Step = config.Duration(cfg.Stream.RetryStep, p.Step)
	if cfg.Stream.GapPolicy != "" {
		p.Gap = stream.GapPolicy(cfg.Stream.GapPolicy)
	}
	return p
}

func agentConfigs(cfg *config.Config) []agents.AgentConfig {
	out := make([]agents.AgentConfig, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		out = append(out, agents.AgentConfig{URL: a.URL, Session: a.Session, Token: a.Token})
	}
	return out
}

func gatewayURL(cfg *config.Config) string {
	host := "127.0.0.1"
	switch cfg.Gateway.Bind {
	case "", "loopback", "lan", "all":
	default:
		host = cfg.Gateway.Bind
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
}

// pushURL is where agents post notifications for the serve process.
func pushURL(cfg *config.Config) string {
	base := cfg.Push.ReceiverURL
	if base == "" {
		base = gatewayURL(cfg)
	}
	return strings.TrimRight(base, "/") + "/notify"
}

// ledger is the task store plus the audit log sharing its database.
type ledger struct {
	store *store.Store
	audit *audit.Logger
}

func openLedger(cfg *config.Config) (*ledger, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	l := &ledger{store: db}
	if cfg.Audit.Enabled {
		l.audit, err = audit.New(db.DB())
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing audit logger: %w", err)
		}
	}
	return l, nil
}

// recorder returns the audit log as an interface value that is nil when
// auditing is off.
func (l *ledger) recorder() dispatch.Recorder {
	if l.audit == nil {
		return nil
	}
	return l.audit
}

func (l *ledger) Close() error {
	return l.store.Close()
}

type orchestration struct {
	registry   *agents.Registry
	dispatcher *dispatch.Dispatcher
}

// buildDispatcher resolves every configured agent card and wires the router.
// pushTo is sent to agents as their notification URL when non-empty.
func buildDispatcher(ctx context.Context, cfg *config.Config, l *ledger, pushTo string, logger *slog.Logger) (*orchestration, error) {
	reg, err := agents.NewRegistry(ctx, agentConfigs(cfg), agents.Options{
		Policy:  streamPolicy(cfg),
		Logger:  logger,
		PushURL: pushTo,
	})
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	logger.Info("agents loaded", slog.Any("tools", reg.Names()))
	if rec := l.recorder(); rec != nil {
		if err := rec.Log(ctx, audit.EventAgentsLoaded, "", "", "system", reg.Names()); err != nil {
			logger.Warn("writing audit entry", slog.String("err", err.Error()))
		}
	}

	router, err := llm.New(ctx, llm.Options{
		Provider: cfg.Router.Provider,
		APIKey:   cfg.Router.APIKey(),
		BaseURL:  cfg.Router.BaseURL,
		Model:    cfg.Router.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	mode, err := llm.ParseToolMode(cfg.Router.ToolMode)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(dispatch.OrchestrationContext{
		Registry: reg,
		Router:   router,
		Route: dispatch.RouteConfig{
			Model:       cfg.Router.Model,
			System:      cfg.Router.System,
			Mode:        mode,
			Temperature: cfg.Router.Temperature,
		},
		Audit:  l.recorder(),
		Ledger: l.store,
		Logger: logger,
	})
	return &orchestration{registry: reg, dispatcher: d}, nil
}

func turnTTL(cfg *config.Config) time.Duration {
	return config.Duration(cfg.Gateway.TurnTTL, 5*time.Minute)
}
