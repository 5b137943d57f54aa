// Package taskstate interprets the state a remote agent reports for a task
// and decides whether the conversation keeps the task open.
package taskstate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

type Outcome int

const (
	// Unknown covers unrecognized states and non-terminal states reported
	// after the agent stopped sending updates. The task is treated as closed.
	Unknown Outcome = iota
	Continue
	Completed
	Failed
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "input-required"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Label is the human readable line of the status fragment.
func (o Outcome) Label() string {
	switch o {
	case Continue:
		return "Input required"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown state"
	}
}

// Open reports whether the task expects another user turn.
func (o Outcome) Open() bool {
	return o == Continue
}

func Classify(state a2a.TaskState) Outcome {
	switch state {
	case a2a.TaskStateInputRequired:
		return Continue
	case a2a.TaskStateCompleted:
		return Completed
	case a2a.TaskStateFailed:
		return Failed
	case a2a.TaskStateCanceled:
		return Canceled
	default:
		return Unknown
	}
}

// ClassifyLogged classifies state and logs states that close the task
// without a recognized terminal value.
func ClassifyLogged(logger *slog.Logger, taskID string, state a2a.TaskState) Outcome {
	o := Classify(state)
	if o == Unknown {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("unrecognized task state, closing task",
			slog.String("task_id", taskID),
			slog.String("state", string(state)),
		)
	}
	return o
}

// StatusFragment is the hidden fragment that closes or keeps open the
// transcript entry for a task.
func StatusFragment(messageID, taskID string, o Outcome) fragment.Fragment {
	f := fragment.New(messageID, fragment.TextPart(fmt.Sprintf("TaskId: %s\n%s", taskID, o.Label())))
	f.Hidden = true
	return f
}

// Tracker remembers, per agent, the task left waiting for more input so the
// next call to that agent continues it.
type Tracker struct {
	mu   sync.Mutex
	open map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]string)}
}

func (t *Tracker) Pending(agent string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.open[agent]
	return id, ok
}

// Observe records the outcome of a task for agent.
func (t *Tracker) Observe(agent, taskID string, o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o.Open() {
		t.open[agent] = taskID
		return
	}
	if t.open[agent] == taskID {
		delete(t.open, agent)
	}
}
