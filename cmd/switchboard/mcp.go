package switchboard

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/mcp"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the configured agents as MCP tools over stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := telemetry.SetupLogger(cfg.Log, "mcp", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	reg, err := agents.NewRegistry(ctx, agentConfigs(cfg), agents.Options{
		Policy:  streamPolicy(cfg),
		Tracker: taskstate.NewTracker(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	scfg := mcp.ServerConfig{Version: version, Logger: logger}
	if l.audit != nil {
		scfg.Audit = l.audit
	}
	server, err := mcp.NewServer(reg, scfg)
	if err != nil {
		return err
	}
	return mcp.ServeStdio(ctx, server)
}
