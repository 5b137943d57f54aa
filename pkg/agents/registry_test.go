package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/a2a/a2atest"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

func TestToolName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Weather Bot", "Weather_Bot"},
		{"Horizon Agent ", "Horizon_Agent"},
		{"single", "single"},
		{"a b c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := ToolName(tt.in); got != tt.want {
			t.Errorf("ToolName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRegistry(t *testing.T) {
	weather := a2atest.NewServer("Weather Bot", a2atest.Script{})
	defer weather.Close()
	horizon := a2atest.NewServer("Horizon Agent", a2atest.Script{}, a2atest.WithoutStreaming())
	defer horizon.Close()

	reg := newTestRegistry(t, Options{}, weather, horizon)

	if diff := cmp.Diff([]string{"Weather_Bot", "Horizon_Agent"}, reg.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	descs := reg.Descriptors()
	if !descs[0].Streaming || descs[1].Streaming {
		t.Errorf("streaming flags = %v %v", descs[0].Streaming, descs[1].Streaming)
	}
	if descs[0].URL != weather.URL {
		t.Errorf("URL = %q, want %q", descs[0].URL, weather.URL)
	}

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("definitions = %d, want 2", len(defs))
	}
	if diff := cmp.Diff([]string{"message"}, defs[0].Parameters["required"]); diff != "" {
		t.Errorf("required mismatch:\n%s", diff)
	}
	props := defs[0].Parameters["properties"].(map[string]any)
	if _, ok := props["taskId"]; !ok {
		t.Error("schema lacks optional taskId")
	}

	if _, err := reg.Lookup("Nope"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Lookup(Nope) err = %v, want ErrUnknownTool", err)
	}
}

func TestNewRegistry_FailsWhenAnyCardFails(t *testing.T) {
	good := a2atest.NewServer("Good", a2atest.Script{})
	defer good.Close()
	bad := a2atest.NewServer("Bad", a2atest.Script{})
	bad.Close()

	reg, err := NewRegistry(context.Background(), []AgentConfig{{URL: good.URL}, {URL: bad.URL}}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if reg != nil {
		t.Error("partial registry returned")
	}
}

func TestNewRegistry_DuplicateNames(t *testing.T) {
	a := a2atest.NewServer("Twin", a2atest.Script{})
	defer a.Close()
	b := a2atest.NewServer("Twin", a2atest.Script{})
	defer b.Close()

	_, err := NewRegistry(context.Background(), []AgentConfig{{URL: a.URL}, {URL: b.URL}}, Options{})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("err = %v, want ErrDuplicateTool", err)
	}
}

func TestNewRegistry_ConfiguredSession(t *testing.T) {
	srv := a2atest.NewServer("Echo", a2atest.Script{})
	defer srv.Close()

	reg, err := NewRegistry(context.Background(), []AgentConfig{{URL: srv.URL, Session: "sess-1"}}, Options{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	invoke(t, reg, "Echo", "hi")
	if diff := cmp.Diff([]string{"sess-1"}, srv.Sessions()); diff != "" {
		t.Errorf("sessions mismatch:\n%s", diff)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    Args
		wantErr bool
	}{
		{"message only", map[string]any{"message": "hi"}, Args{Message: "hi"}, false},
		{"with task", map[string]any{"message": "hi", "taskId": "t1"}, Args{Message: "hi", TaskID: "t1"}, false},
		{"null task", map[string]any{"message": "hi", "taskId": nil}, Args{Message: "hi"}, false},
		{"missing message", map[string]any{"taskId": "t1"}, Args{}, true},
		{"blank message", map[string]any{"message": "  "}, Args{}, true},
		{"numeric task", map[string]any{"message": "hi", "taskId": 7.0}, Args{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgs) {
				t.Errorf("err = %v, want ErrInvalidArgs", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStreamNormalizer(t *testing.T) {
	n := &streamNormalizer{}
	text := func(s string) a2a.TaskUpdateEvent { return a2atest.Text(s) }

	f, ok, err := n.next(a2a.StreamResponse{ID: "req-1", Result: text("a")}, false)
	if err != nil || !ok || f.MessageID != "req-1" {
		t.Fatalf("first = %+v, %v, %v", f, ok, err)
	}

	// Events without parts yield nothing but keep the reconnect marker.
	_, ok, err = n.next(a2a.StreamResponse{ID: "req-2", Result: a2a.TaskUpdateEvent{Status: &a2a.TaskStatus{State: a2a.TaskStateWorking}}}, true)
	if err != nil || ok {
		t.Fatalf("status without message = %v, %v", ok, err)
	}

	f, ok, err = n.next(a2a.StreamResponse{ID: "req-2", Result: a2atest.StatusText("b")}, false)
	if err != nil || !ok {
		t.Fatalf("status with message = %v, %v", ok, err)
	}
	want := fragment.Fragment{MessageID: "req-1", Parts: []fragment.Part{fragment.TextPart("b")}, Resumed: true}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("fragment mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := n.next(a2a.StreamResponse{Result: text("c")}, false); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("missing id err = %v, want ErrMalformedResponse", err)
	}
}

func TestUnaryFragment(t *testing.T) {
	if _, err := unaryFragment(nil, "x"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("nil task err = %v", err)
	}

	task := &a2a.Task{Artifacts: []a2a.Artifact{
		{Parts: []a2a.Part{a2a.TextPart("first")}},
		{Parts: []a2a.Part{a2a.TextPart("second")}},
	}}
	f, err := unaryFragment(task, "local")
	if err != nil {
		t.Fatalf("unaryFragment: %v", err)
	}
	if f.MessageID != "local" || f.Text() != "first" {
		t.Errorf("fragment = %+v", f)
	}

	// A leading artifact without parts yields an empty fragment; later
	// artifacts are not consulted.
	task = &a2a.Task{ID: "t1", Artifacts: []a2a.Artifact{{}, {Parts: []a2a.Part{a2a.TextPart("later")}}}}
	f, err = unaryFragment(task, "local")
	if err != nil {
		t.Fatalf("unaryFragment: %v", err)
	}
	if f.MessageID != "t1" || len(f.Parts) != 0 {
		t.Errorf("fragment = %+v, want empty parts under t1", f)
	}
}
