package dispatch

import (
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

type MessageType string

const (
	// MessageChat is text produced by the router itself.
	MessageChat MessageType = "chat"
	// MessageA2A is output relayed from a remote agent.
	MessageA2A MessageType = "a2a"
)

// Envelope is one record of a turn as published to clients:
// {"message_type", "messageId", "parts", "hidden", "resumed"}.
type Envelope struct {
	MessageType MessageType `json:"message_type"`
	fragment.Fragment
}

func ChatEnvelope(f fragment.Fragment) Envelope {
	return Envelope{MessageType: MessageChat, Fragment: f}
}

func A2AEnvelope(f fragment.Fragment) Envelope {
	return Envelope{MessageType: MessageA2A, Fragment: f}
}
