// Package hub fans websocket messages out to dashboard clients: status
// JSON on one hub, camera JPEG frames on another.
package hub

// MessageType is the websocket frame kind.
type MessageType int

const (
	JSONMessage MessageType = iota
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message { return Message{Type: JSONMessage, Data: data} }

func NewBinaryMessage(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }
