// Package protocol defines the JSON wire surface of the economy
// gateway. The chat front-end renders these; nothing here localizes
// or formats for display.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeExecute = "EXECUTE"
	TypeConfirm = "CONFIRM"
	TypeResult  = "RESULT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
