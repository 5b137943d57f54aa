// Package mcp serves the agent registry over the Model Context Protocol, so
// an MCP client can call every registered A2A agent as a tool.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/igorsilveira/switchboard/pkg/agents"
)

// Recorder receives audit events. *audit.Logger satisfies it.
type Recorder interface {
	Log(ctx context.Context, eventType, sessionID, agent, actor string, detail any) error
}

type ServerConfig struct {
	Version string
	Audit   Recorder
	Logger  *slog.Logger
}

// NewServer registers one MCP tool per agent in reg.
func NewServer(reg *agents.Registry, cfg ServerConfig) (*mcpsdk.Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "switchboard",
		Version: cfg.Version,
	}, nil)

	for _, name := range reg.Names() {
		t, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		at := NewAgentTool(t, cfg.Audit, cfg.Logger)
		server.AddTool(at.Definition(), at.Handle)
	}
	cfg.Logger.Info("mcp server ready", slog.Int("tools", reg.Len()))
	return server, nil
}

// ServeStdio serves until the client disconnects or ctx is done.
func ServeStdio(ctx context.Context, server *mcpsdk.Server) error {
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
