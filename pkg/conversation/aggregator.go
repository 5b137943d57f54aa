// Package conversation merges the envelopes of each turn into a transcript
// with one entry per message id.
package conversation

import (
	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

// Entry is one row of the displayed transcript.
type Entry struct {
	Role      string               `json:"role"`
	MessageID string               `json:"messageId,omitempty"`
	Type      dispatch.MessageType `json:"message_type,omitempty"`
	// Content is the part currently shown. It is nil for an entry opened by a
	// hidden fragment.
	Content *fragment.Part `json:"content,omitempty"`
	// InProgress is true while the entry may still change.
	InProgress bool `json:"inProgress,omitempty"`
	// Resumed is set once a fragment arrived after a reconnect.
	Resumed bool `json:"resumed,omitempty"`
}

// Aggregator owns the transcript of one conversation. It is not safe for
// concurrent use; Conversation serializes access.
type Aggregator struct {
	index   map[string]int
	history []fragment.Turn
	entries []Entry
}

func NewAggregator() *Aggregator {
	return &Aggregator{index: make(map[string]int)}
}

// AddUser appends a user turn.
func (a *Aggregator) AddUser(turn fragment.Turn) {
	turn.Role = fragment.RoleUser
	turn.Parts = append([]fragment.Part(nil), turn.Parts...)
	a.history = append(a.history, turn)

	e := Entry{Role: fragment.RoleUser}
	if n := len(turn.Parts); n > 0 {
		last := turn.Parts[n-1]
		e.Content = &last
	}
	a.entries = append(a.entries, e)
}

// Apply merges one envelope. The first envelope for a message id opens an
// entry; later ones append to its history. Visible envelopes replace the
// displayed content with their last part, hidden ones close the entry.
func (a *Aggregator) Apply(env dispatch.Envelope) {
	idx, seen := a.index[env.MessageID]
	if !seen {
		idx = len(a.entries)
		a.index[env.MessageID] = idx
		a.history = append(a.history, fragment.Turn{Role: fragment.RoleModel})
		a.entries = append(a.entries, Entry{
			Role:      fragment.RoleModel,
			MessageID: env.MessageID,
			Type:      env.MessageType,
		})
	}

	a.history[idx].Parts = append(a.history[idx].Parts, historyParts(env.Parts)...)

	e := &a.entries[idx]
	if env.Hidden {
		e.InProgress = false
		return
	}
	if n := len(env.Parts); n > 0 {
		last := env.Parts[n-1]
		e.Content = &last
	}
	e.InProgress = env.MessageType == dispatch.MessageA2A
	if env.Resumed {
		e.Resumed = true
	}
}

// Close marks every entry as finished. Used when a turn ends without a hidden
// status, such as a chat reply or an error.
func (a *Aggregator) Close() {
	for i := range a.entries {
		a.entries[i].InProgress = false
	}
}

// History returns the role history handed to the router. Entries that have
// no parts yet are left out.
func (a *Aggregator) History() []fragment.Turn {
	out := make([]fragment.Turn, 0, len(a.history))
	for _, t := range a.history {
		if len(t.Parts) == 0 {
			continue
		}
		out = append(out, fragment.Turn{Role: t.Role, Parts: append([]fragment.Part(nil), t.Parts...)})
	}
	return out
}

func (a *Aggregator) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}

func (a *Aggregator) Len() int { return len(a.entries) }

// historyParts renders forms as text since routers only accept text and
// inline data in history.
func historyParts(parts []fragment.Part) []fragment.Part {
	out := make([]fragment.Part, 0, len(parts))
	for _, p := range parts {
		if p.Form != nil {
			p = fragment.TextPart(p.String())
		}
		out = append(out, p)
	}
	return out
}
