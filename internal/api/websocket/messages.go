package websocket

import (
	"time"

	"github.com/KevinKickass/OpenCoupler/internal/poller"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Process image after each tick
	MessageTypeSnapshot MessageType = "io_snapshot"

	// Reply to a set_output request
	MessageTypeSetOutputResult MessageType = "set_output_result"

	MessageTypeError MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// SetOutputResultData reports the outcome of a set_output request
type SetOutputResultData struct {
	Address string `json:"address"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// ErrorData carries a protocol error
type ErrorData struct {
	Message string `json:"message"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewSnapshotMessage(snap poller.Snapshot) Message {
	return Message{
		Type:      MessageTypeSnapshot,
		Timestamp: snap.Timestamp,
		Data:      snap,
	}
}

func NewSetOutputResult(address string, err error) Message {
	data := SetOutputResultData{Address: address, OK: err == nil}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(MessageTypeSetOutputResult, data)
}

func NewErrorMessage(message string) Message {
	return NewMessage(MessageTypeError, ErrorData{Message: message})
}
