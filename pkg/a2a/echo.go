package a2a

import (
	"context"
	"strings"
	"time"
)

// EchoRunner answers every message by streaming it back one word per
// artifact chunk. A message ending in "?" leaves the task waiting for input.
type EchoRunner struct {
	Delay time.Duration
}

func (e EchoRunner) Run(ctx context.Context, task Task, msg Message, emit func(TaskUpdateEvent) error) (TaskStatus, error) {
	text := strings.TrimSpace(TextOf(msg))
	words := strings.Fields(text)
	if len(words) == 0 {
		words = []string{"(empty)"}
	}

	var sent strings.Builder
	for i, w := range words {
		if i > 0 {
			sent.WriteString(" ")
		}
		sent.WriteString(w)
		if err := emit(TaskUpdateEvent{Artifact: &Artifact{
			Name:      "echo",
			Parts:     []Part{TextPart(sent.String())},
			Index:     0,
			Append:    i > 0,
			LastChunk: i == len(words)-1,
		}}); err != nil {
			return TaskStatus{}, err
		}
		if e.Delay > 0 {
			select {
			case <-ctx.Done():
				return TaskStatus{}, ctx.Err()
			case <-time.After(e.Delay):
			}
		}
	}

	if strings.HasSuffix(text, "?") {
		return TaskStatus{
			State:   TaskStateInputRequired,
			Message: &Message{Role: RoleAgent, Parts: []Part{TextPart("Tell me more.")}},
		}, nil
	}
	return TaskStatus{State: TaskStateCompleted}, nil
}

// EchoCard describes an echo agent served at url.
func EchoCard(name, url string) *AgentCard {
	return &AgentCard{
		Name:               name,
		Description:        "Repeats whatever it is told, one word at a time.",
		URL:                url,
		Version:            "1.0.0",
		Capabilities:       Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []Skill{{
			ID:          "echo",
			Name:        "Echo",
			Description: "Echoes the message back.",
			Examples:    []string{"hello there", "are you listening?"},
		}},
	}
}
