package protocol

import "fmt"

// Message is one decoded multiplexer message; only the fields of its Type
// are meaningful.
type Message struct {
	Type         MessageType
	ConnectionID ConnectionID

	// CONNECT
	Host string
	Port uint16

	// CLOSE, empty means no reason
	Reason string

	// DATA
	Data []byte
}

func NewConnect(id ConnectionID, host string, port uint16) *Message {
	return &Message{Type: MessageTypeConnect, ConnectionID: id, Host: host, Port: port}
}

func NewClose(id ConnectionID, reason string) *Message {
	return &Message{Type: MessageTypeClose, ConnectionID: id, Reason: reason}
}

func NewData(id ConnectionID, data []byte) *Message {
	return &Message{Type: MessageTypeData, ConnectionID: id, Data: data}
}

func (m *Message) Encode() ([]byte, error) {
	return Encode(m)
}

func (m *Message) String() string {
	switch m.Type {
	case MessageTypeConnect:
		return fmt.Sprintf("CONNECT(%s, %s:%d)", m.ConnectionID, m.Host, m.Port)
	case MessageTypeClose:
		return fmt.Sprintf("CLOSE(%s, %q)", m.ConnectionID, m.Reason)
	case MessageTypeData:
		return fmt.Sprintf("DATA(%s, %d bytes)", m.ConnectionID, len(m.Data))
	default:
		return m.Type.String()
	}
}
