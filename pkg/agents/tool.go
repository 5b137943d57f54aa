// Package agents turns remote A2A agents into tools a router can call and
// normalizes their replies into fragments.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/llm"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
)

var (
	ErrMalformedResponse = errors.New("malformed agent response")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidArgs       = errors.New("invalid tool arguments")
	ErrDuplicateTool     = errors.New("duplicate tool name")
)

// Descriptor is what the registry knows about one agent, built once from its
// card.
type Descriptor struct {
	URL               string         `json:"url"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Streaming         bool           `json:"streaming"`
	PushNotifications bool           `json:"pushNotifications"`
	ToolName          string         `json:"tool"`
	Schema            map[string]any `json:"schema,omitempty"`
}

// ToolName derives the callable name from an agent's display name.
func ToolName(cardName string) string {
	return strings.ReplaceAll(strings.TrimSpace(cardName), " ", "_")
}

func toolSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to send to the agent",
			},
			"taskId": map[string]any{
				"type":        "string",
				"description": "The task id to send to the agent. If not provided, a new task id will be generated.",
			},
		},
		"required": []string{"message"},
	}
}

func describe(card *a2a.AgentCard) Descriptor {
	return Descriptor{
		URL:               card.URL,
		Name:              card.Name,
		Description:       card.Description,
		Streaming:         card.Capabilities.Streaming,
		PushNotifications: card.Capabilities.PushNotifications,
		ToolName:          ToolName(card.Name),
		Schema:            toolSchema(),
	}
}

// Definition renders the descriptor for a router request.
func (d Descriptor) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.ToolName,
		Description: d.Description,
		Parameters:  d.Schema,
	}
}

// Args are the validated arguments of one tool call.
type Args struct {
	Message string
	TaskID  string
	// Attachments are sent after the message text. The router never sets
	// them.
	Attachments []a2a.Part
}

// ParseArgs validates raw router arguments.
func ParseArgs(raw map[string]any) (Args, error) {
	msg, ok := raw["message"].(string)
	if !ok || strings.TrimSpace(msg) == "" {
		return Args{}, fmt.Errorf("%w: message is required", ErrInvalidArgs)
	}
	args := Args{Message: msg}
	if v, present := raw["taskId"]; present && v != nil {
		id, ok := v.(string)
		if !ok {
			return Args{}, fmt.Errorf("%w: taskId must be a string", ErrInvalidArgs)
		}
		args.TaskID = id
	}
	return args, nil
}

// Event is one item of a tool invocation's output. The last event of a
// successful invocation carries Final and the task outcome; a failed one
// carries Err.
type Event struct {
	Fragment fragment.Fragment
	TaskID   string
	Outcome  taskstate.Outcome
	Final    bool
	Err      error
}

type Tool interface {
	Name() string
	Descriptor() Descriptor
	// Session is the session id sent with every task.
	Session() string
	// Invoke starts the call. The returned channel is closed after the final
	// event or an error event.
	Invoke(ctx context.Context, args Args) (<-chan Event, error)
}
