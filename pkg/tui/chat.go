package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/igorsilveira/switchboard/pkg/conversation"
	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	routerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Submitter is the part of a Conversation the chat screen drives.
type Submitter interface {
	Submit(turn fragment.Turn) *conversation.Pending
	Snapshot() conversation.Snapshot
}

type Model struct {
	conv     Submitter
	title    string
	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	snap     conversation.Snapshot
	width    int
	height   int
}

func NewModel(conv Submitter, title string) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask the agents something"
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	return Model{
		conv:     conv,
		title:    title,
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		snap:     conv.Snapshot(),
	}
}

// snapshotMsg carries one published snapshot and the channel to keep
// listening on.
type snapshotMsg struct {
	snap    conversation.Snapshot
	updates <-chan conversation.Snapshot
}

type turnDoneMsg struct{}

func waitForSnapshot(updates <-chan conversation.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return turnDoneMsg{}
		}
		return snapshotMsg{snap: s, updates: updates}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if m.snap.Busy || text == "" {
				return m, nil
			}
			m.input.Reset()
			m.snap.Busy = true
			pending := m.conv.Submit(fragment.UserText(text))
			return m, waitForSnapshot(pending.Updates())
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.timeline.Width = msg.Width
		m.timeline.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.render()

	case snapshotMsg:
		m.snap = msg.snap
		m.render()
		return m, waitForSnapshot(msg.updates)

	case turnDoneMsg:
		m.snap = m.conv.Snapshot()
		m.render()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Busy {
			m.render()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) render() {
	if m.width == 0 {
		return
	}
	m.timeline.SetContent(renderTranscript(m.snap, m.spinner.View(), m.width))
	m.timeline.GotoBottom()
}

// renderTranscript draws entries in order. Entries still streaming get the
// spinner frame appended.
func renderTranscript(snap conversation.Snapshot, frame string, width int) string {
	var b strings.Builder
	for _, e := range snap.Entries {
		if e.Content == nil {
			continue
		}
		var line string
		switch {
		case e.Role == fragment.RoleUser:
			line = userStyle.Render("You:") + " "
		case e.Type == dispatch.MessageA2A:
			line = agentStyle.Render("Agent:") + " "
		default:
			line = routerStyle.Render("Switchboard:") + " "
		}

		text := e.Content.String()
		if e.Type == dispatch.MessageChat && strings.HasPrefix(text, "Error: ") {
			text = errorStyle.Render(text)
		}
		line += text
		if e.InProgress {
			line += " " + frame
		}
		b.WriteString(wrapLine(line, width))
		if e.Resumed {
			b.WriteString("\n" + dimStyle.Render("(reconnected, some updates may be missing)"))
		}
		b.WriteString("\n\n")
	}
	if snap.Err != nil {
		b.WriteString(errorStyle.Render("Error: " + snap.Err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// wrapLine word-wraps s to width without the trailing padding lipgloss adds
// to short lines.
func wrapLine(s string, width int) string {
	wrapped := lipgloss.NewStyle().Width(max(width, 20)).Render(s)
	lines := strings.Split(wrapped, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.Join(lines, "\n")
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(m.title + " (Ctrl+C to quit)"))
	b.WriteString("\n")
	b.WriteString(m.timeline.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	if m.snap.Busy {
		b.WriteString(m.spinner.View() + dimStyle.Render(" waiting for agents"))
	} else {
		b.WriteString(m.input.View())
	}
	return b.String()
}

// Run drives a conversation against src until the user quits.
func Run(ctx context.Context, src conversation.Source, title string) error {
	conv := conversation.New(ctx, src)
	defer conv.Close()

	p := tea.NewProgram(NewModel(conv, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
