package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/igorsilveira/switchboard/pkg/conversation"
	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

type replySource struct{ reply string }

func (s replySource) Turn(ctx context.Context, history []fragment.Turn) <-chan dispatch.Envelope {
	out := make(chan dispatch.Envelope, 1)
	out <- dispatch.ChatEnvelope(fragment.New("m-"+history[len(history)-1].Text(), fragment.TextPart(s.reply)))
	close(out)
	return out
}

func part(s string) *fragment.Part {
	p := fragment.TextPart(s)
	return &p
}

func TestRenderTranscript(t *testing.T) {
	snap := conversation.Snapshot{Entries: []conversation.Entry{
		{Role: fragment.RoleUser, Content: part("weather in Paris?")},
		{Role: fragment.RoleModel, Type: dispatch.MessageA2A, MessageID: "m1", Content: part("Sunny"), InProgress: true, Resumed: true},
		{Role: fragment.RoleModel, Type: dispatch.MessageA2A, MessageID: "m2"},
		{Role: fragment.RoleModel, Type: dispatch.MessageChat, MessageID: "m3", Content: part("Error: Stock_Bot is not a valid function")},
	}, Err: errors.New("gateway down")}

	out := renderTranscript(snap, "*", 80)
	for _, want := range []string{"You:", "weather in Paris?", "Agent:", "Sunny *", "reconnected", "Switchboard:", "Stock_Bot", "gateway down"} {
		if !strings.Contains(out, want) {
			t.Errorf("transcript missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Agent:") != 1 {
		t.Errorf("entry without content was rendered:\n%s", out)
	}
}

func TestRenderTranscript_FitsWidth(t *testing.T) {
	long := strings.Repeat("partly cloudy with light rain ", 6)
	snap := conversation.Snapshot{Entries: []conversation.Entry{
		{Role: fragment.RoleModel, Type: dispatch.MessageA2A, MessageID: "m1", Content: part(long), InProgress: true},
		{Role: fragment.RoleModel, Type: dispatch.MessageA2A, MessageID: "m2", Content: part("Sunny"), InProgress: true},
	}}

	out := renderTranscript(snap, "*", 40)
	for _, line := range strings.Split(out, "\n") {
		if w := lipgloss.Width(line); w > 40 {
			t.Errorf("line is %d cells wide, want <= 40: %q", w, line)
		}
		if strings.HasSuffix(line, " ") {
			t.Errorf("line has trailing padding: %q", line)
		}
	}
	if !strings.Contains(out, "Agent: Sunny *") {
		t.Errorf("spinner not next to the text:\n%s", out)
	}
}

func TestModelSubmitsTurn(t *testing.T) {
	conv := conversation.New(context.Background(), replySource{reply: "hello back"})
	defer conv.Close()

	var m tea.Model = NewModel(conv, "Switchboard")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	for _, r := range "hi" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter did not submit")
	}
	if !m.(Model).snap.Busy {
		t.Error("model not busy after submit")
	}

	// Follow the snapshot chain until the turn is done.
	for cmd != nil {
		msg := cmd()
		m, cmd = m.Update(msg)
		if _, done := msg.(turnDoneMsg); done {
			break
		}
	}

	got := m.(Model)
	if got.snap.Busy {
		t.Error("still busy after turn")
	}
	if len(got.snap.Entries) != 2 || got.snap.Entries[1].Content.Text != "hello back" {
		t.Errorf("entries = %+v", got.snap.Entries)
	}
	if got.input.Value() != "" {
		t.Errorf("input not cleared: %q", got.input.Value())
	}
	if !strings.Contains(got.View(), "hello back") {
		t.Errorf("view missing reply:\n%s", got.View())
	}
}

func TestModelIgnoresEmptyInput(t *testing.T) {
	conv := conversation.New(context.Background(), replySource{})
	defer conv.Close()

	var m tea.Model = NewModel(conv, "Switchboard")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("empty input submitted a turn")
	}
}
