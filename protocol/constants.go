package protocol

import "fmt"

// MessageType is the first item of every multiplexer message.
type MessageType uint8

const (
	MessageTypeConnect MessageType = 0
	MessageTypeClose   MessageType = 1
	MessageTypeData    MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeConnect:
		return "CONNECT"
	case MessageTypeClose:
		return "CLOSE"
	case MessageTypeData:
		return "DATA"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// ConnectionID identifies a logical connection inside one session.
type ConnectionID uint64

func (id ConnectionID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// CloseReasonAbort is sent for connections torn down by a local stop.
const CloseReasonAbort = "abort"
