package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/audit"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
)

// AgentTool exposes one registered agent as an MCP tool.
type AgentTool struct {
	tool   agents.Tool
	audit  Recorder
	logger *slog.Logger
}

// Outcome is the structured result of a call. Clients pass TaskID back to
// continue a task that needs more input.
type Outcome struct {
	TaskID string `json:"taskId"`
	State  string `json:"state"`
}

func NewAgentTool(t agents.Tool, audit Recorder, logger *slog.Logger) *AgentTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentTool{tool: t, audit: audit, logger: logger}
}

func (t *AgentTool) Definition() *mcpsdk.Tool {
	d := t.tool.Descriptor()
	desc := d.Description
	if desc == "" {
		desc = "Remote agent " + d.Name
	}
	return &mcpsdk.Tool{
		Name:        d.ToolName,
		Description: fmt.Sprintf("[A2A:%s] %s", d.Name, desc),
		InputSchema: d.Schema,
	}
}

// Handle runs the call to completion. Agent failures come back as error
// results so the calling model can see them.
func (t *AgentTool) Handle(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var raw map[string]any
	if len(req.Params.Arguments) > 0 && string(req.Params.Arguments) != "null" {
		if err := json.Unmarshal(req.Params.Arguments, &raw); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}
	args, err := agents.ParseArgs(raw)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	name := t.tool.Name()
	ch, err := t.tool.Invoke(ctx, args)
	if err != nil {
		t.logger.Warn("mcp call failed", slog.String("agent", name), slog.String("err", err.Error()))
		t.record(ctx, name, map[string]string{"error": err.Error()})
		return errorResult(fmt.Sprintf("calling %s: %v", name, err)), nil
	}
	frags, last := agents.Collect(ch)
	if last.Err != nil {
		t.record(ctx, name, map[string]string{"task_id": last.TaskID, "error": last.Err.Error()})
		return errorResult(fmt.Sprintf("%s: %v", name, last.Err)), nil
	}

	res := &mcpsdk.CallToolResult{
		Content: contents(mergeByMessage(frags)),
		StructuredContent: Outcome{
			TaskID: last.TaskID,
			State:  last.Outcome.String(),
		},
		IsError: last.Outcome == taskstate.Failed,
	}
	t.record(ctx, name, map[string]string{"task_id": last.TaskID, "outcome": last.Outcome.String()})
	return res, nil
}

func (t *AgentTool) record(ctx context.Context, agent string, detail any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, audit.EventMCPCall, "", agent, "mcp", detail); err != nil {
		t.logger.Warn("writing audit entry", slog.String("err", err.Error()))
	}
}

// mergeByMessage keeps the latest visible parts per message id in first-seen
// order, the way a transcript shows them, and appends the hidden status text.
func mergeByMessage(frags []fragment.Fragment) []fragment.Part {
	var (
		order  []string
		latest = make(map[string][]fragment.Part)
		status []fragment.Part
	)
	for _, f := range frags {
		if f.Hidden {
			status = f.Parts
			continue
		}
		if _, seen := latest[f.MessageID]; !seen {
			order = append(order, f.MessageID)
		}
		latest[f.MessageID] = f.Parts
	}
	var out []fragment.Part
	for _, id := range order {
		out = append(out, latest[id]...)
	}
	return append(out, status...)
}

func contents(parts []fragment.Part) []mcpsdk.Content {
	var out []mcpsdk.Content
	var text []string
	for _, p := range parts {
		if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/") {
			out = append(out, &mcpsdk.ImageContent{Data: p.InlineData.Data, MIMEType: p.InlineData.MimeType})
			continue
		}
		text = append(text, p.String())
	}
	if len(text) > 0 {
		out = append([]mcpsdk.Content{&mcpsdk.TextContent{Text: strings.Join(text, "\n")}}, out...)
	}
	return out
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}
