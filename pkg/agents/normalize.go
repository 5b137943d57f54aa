package agents

import (
	"encoding/json"
	"fmt"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

func decodeStreamResponse(data []byte) (a2a.StreamResponse, error) {
	var resp a2a.StreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return a2a.StreamResponse{}, err
	}
	return resp, nil
}

// streamNormalizer turns stream events into fragments that all share the id
// of the first event, across reconnects.
type streamNormalizer struct {
	messageID string
	resumed   bool
}

// next returns the fragment for one event. ok is false for events that carry
// no parts.
func (n *streamNormalizer) next(resp a2a.StreamResponse, resumed bool) (f fragment.Fragment, ok bool, err error) {
	if resp.Error != nil {
		return fragment.Fragment{}, false, fmt.Errorf("agent returned error: %w", resp.Error)
	}
	id := a2a.IDString(resp.ID)
	if id == "" {
		return fragment.Fragment{}, false, fmt.Errorf("%w: stream event without id", ErrMalformedResponse)
	}
	if n.messageID == "" {
		n.messageID = id
	}

	// A reconnect marker survives events without parts.
	n.resumed = n.resumed || resumed
	parts, ok := resp.Result.Parts()
	if !ok {
		return fragment.Fragment{}, false, nil
	}
	f = fragment.New(n.messageID, fragment.FromA2A(parts)...)
	f.Resumed = n.resumed
	n.resumed = false
	return f, true, nil
}

// unaryFragment is the single fragment of a tasks/send reply. The task id
// keys the fragment; fallbackID is used when the agent omitted it.
func unaryFragment(task *a2a.Task, fallbackID string) (fragment.Fragment, error) {
	if task == nil {
		return fragment.Fragment{}, fmt.Errorf("%w: empty result", ErrMalformedResponse)
	}
	id := task.ID
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return fragment.Fragment{}, fmt.Errorf("%w: result without id", ErrMalformedResponse)
	}

	// Only the first artifact is read, even when it carries no parts.
	if len(task.Artifacts) == 0 {
		return fragment.New(id), nil
	}
	return fragment.New(id, fragment.FromA2A(task.Artifacts[0].Parts)...), nil
}
