package ws

import (
	"encoding/json"
	"fmt"
)

// Kind names one of the two real-time channels of a session.
type Kind string

const (
	KindChat     Kind = "chat"
	KindTerminal Kind = "terminal"
)

// Kinds lists every channel a session opens, in open order.
var Kinds = []Kind{KindChat, KindTerminal}

// Frame types for the channel protocol.
const (
	TypeResponse = "response" // server → client on the chat channel
	TypeMessage  = "message"  // client → server on the chat channel
	TypeCommand  = "command"  // client → server on the terminal channel
)

// Envelope wraps every chat frame with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// ChatResponse is the chat channel's only handled inbound frame.
type ChatResponse struct {
	Type     string `json:"type"`
	Response struct {
		Response string `json:"response"`
	} `json:"response"`
}

// ChatMessage is sent by the client to talk to the agent.
type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// TerminalCommand is sent by the client to run a command.
type TerminalCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// TerminalOutput is the terminal channel's inbound frame: the command that ran
// and everything it printed.
type TerminalOutput struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// ChatEvent is a decoded assistant reply.
type ChatEvent struct {
	Content string
}

// TerminalEvent is a decoded command result.
type TerminalEvent struct {
	Command string
	Output  string
}

// DecodeChat decodes a chat channel frame. ok is false for frame types this
// client does not handle; those are not errors.
func DecodeChat(data []byte) (ev ChatEvent, ok bool, err error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ChatEvent{}, false, fmt.Errorf("decode chat frame: %w", err)
	}
	if env.Type != TypeResponse {
		return ChatEvent{}, false, nil
	}
	var msg ChatResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChatEvent{}, false, fmt.Errorf("decode chat response: %w", err)
	}
	return ChatEvent{Content: msg.Response.Response}, true, nil
}

// DecodeTerminal decodes a terminal channel frame.
func DecodeTerminal(data []byte) (TerminalEvent, error) {
	var msg TerminalOutput
	if err := json.Unmarshal(data, &msg); err != nil {
		return TerminalEvent{}, fmt.Errorf("decode terminal frame: %w", err)
	}
	return TerminalEvent{Command: msg.Command, Output: msg.Output}, nil
}
