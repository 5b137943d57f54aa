package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/a2a/a2atest"
	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

type recorder struct {
	events []string
}

func (r *recorder) Log(_ context.Context, eventType, _, agent, _ string, _ any) error {
	r.events = append(r.events, eventType+":"+agent)
	return nil
}

// connect serves reg over in-memory transports and returns a client session.
func connect(t *testing.T, reg *agents.Registry, audit Recorder) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	server, err := NewServer(reg, ServerConfig{Version: "test", Audit: audit})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func newRegistry(t *testing.T, servers ...*a2atest.Server) *agents.Registry {
	t.Helper()
	var cfgs []agents.AgentConfig
	for _, s := range servers {
		cfgs = append(cfgs, agents.AgentConfig{URL: s.URL})
	}
	reg, err := agents.NewRegistry(context.Background(), cfgs, agents.Options{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func resultText(res *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestListTools(t *testing.T) {
	weather := a2atest.NewServer("Weather Bot", a2atest.Script{})
	defer weather.Close()
	stocks := a2atest.NewServer("Stock Bot", a2atest.Script{})
	defer stocks.Close()

	cs := connect(t, newRegistry(t, weather, stocks), nil)
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		if !strings.HasPrefix(tool.Description, "[A2A:") {
			t.Errorf("description = %q", tool.Description)
		}
	}
	slices.Sort(names)
	if diff := cmp.Diff([]string{"Stock_Bot", "Weather_Bot"}, names); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestCallTool(t *testing.T) {
	weather := a2atest.NewServer("Weather Bot", a2atest.Script{Segments: []a2atest.Segment{
		{Events: []a2a.TaskUpdateEvent{a2atest.Text("Checking"), a2atest.Text("Sunny, 24C")}, Status: a2atest.Completed()},
	}})
	defer weather.Close()

	audit := &recorder{}
	cs := connect(t, newRegistry(t, weather), audit)
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "Weather_Bot",
		Arguments: map[string]any{"message": "Paris?"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", resultText(res))
	}

	text := resultText(res)
	if !strings.Contains(text, "Sunny, 24C") || !strings.HasSuffix(text, "\nCompleted") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "Checking") {
		t.Errorf("superseded fragment kept: %q", text)
	}

	raw, _ := json.Marshal(res.StructuredContent)
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.State != "completed" || out.TaskID == "" {
		t.Errorf("outcome = %+v", out)
	}
	if diff := cmp.Diff([]string{"mcp_call:Weather_Bot"}, audit.events); diff != "" {
		t.Errorf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestCallTool_InvalidArgs(t *testing.T) {
	weather := a2atest.NewServer("Weather Bot", a2atest.Script{})
	defer weather.Close()

	cs := connect(t, newRegistry(t, weather), nil)
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "Weather_Bot",
		Arguments: map[string]any{"taskId": "t1"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "message is required") {
		t.Errorf("result = %+v", res)
	}
	if n := len(weather.Messages()); n != 0 {
		t.Errorf("agent received %d messages", n)
	}
}

func TestCallTool_AgentDown(t *testing.T) {
	weather := a2atest.NewServer("Weather Bot", a2atest.Script{})
	reg := newRegistry(t, weather)
	weather.Close()

	cs := connect(t, reg, nil)
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "Weather_Bot",
		Arguments: map[string]any{"message": "hi"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "Weather_Bot") {
		t.Errorf("result = %q", resultText(res))
	}
}

func TestMergeByMessage(t *testing.T) {
	status := fragment.New("m1", fragment.TextPart("TaskId: t1\nCompleted"))
	status.Hidden = true
	frags := []fragment.Fragment{
		fragment.New("m1", fragment.TextPart("a")),
		fragment.New("m2", fragment.TextPart("x")),
		fragment.New("m1", fragment.TextPart("b")),
		status,
	}
	var got []string
	for _, p := range mergeByMessage(frags) {
		got = append(got, p.Text)
	}
	if diff := cmp.Diff([]string{"b", "x", "TaskId: t1\nCompleted"}, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestContents_Images(t *testing.T) {
	parts := []fragment.Part{
		fragment.TextPart("chart:"),
		{InlineData: &fragment.InlineData{MimeType: "image/png", Data: []byte{1, 2}}},
		{InlineData: &fragment.InlineData{MimeType: "application/pdf", Data: []byte{3}}},
	}
	out := contents(parts)
	if len(out) != 2 {
		t.Fatalf("contents = %d, want 2", len(out))
	}
	tc, ok := out[0].(*mcpsdk.TextContent)
	if !ok || tc.Text != "chart:\n[application/pdf, 1 bytes]" {
		t.Errorf("text content = %+v", out[0])
	}
	if img, ok := out[1].(*mcpsdk.ImageContent); !ok || img.MIMEType != "image/png" {
		t.Errorf("image content = %+v", out[1])
	}
}
