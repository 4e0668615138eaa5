package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

var decMode cbor.DecMode

func init() {
	var err error
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func Decode(raw []byte) (*Message, error) {
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(items) < 2 {
		return nil, fmt.Errorf("%w: expect at least 2 items, but got %d", ErrMalformedMessage, len(items))
	}

	var typ uint8
	if err := decMode.Unmarshal(items[0], &typ); err != nil {
		return nil, fmt.Errorf("%w: message type: %v", ErrMalformedMessage, err)
	}

	var id uint64
	if err := decMode.Unmarshal(items[1], &id); err != nil {
		return nil, fmt.Errorf("%w: connection id: %v", ErrMalformedMessage, err)
	}

	m := &Message{
		Type:         MessageType(typ),
		ConnectionID: ConnectionID(id),
	}
	args := items[2:]

	switch m.Type {
	case MessageTypeConnect:
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: CONNECT expects host and port", ErrMalformedMessage)
		}
		if err := decMode.Unmarshal(args[0], &m.Host); err != nil {
			return nil, fmt.Errorf("%w: host: %v", ErrMalformedMessage, err)
		}
		if err := decMode.Unmarshal(args[1], &m.Port); err != nil {
			return nil, fmt.Errorf("%w: port: %v", ErrMalformedMessage, err)
		}
	case MessageTypeClose:
		if len(args) > 0 {
			var reason *string
			if err := decMode.Unmarshal(args[0], &reason); err != nil {
				return nil, fmt.Errorf("%w: reason: %v", ErrMalformedMessage, err)
			}
			if reason != nil {
				m.Reason = *reason
			}
		}
	case MessageTypeData:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: DATA expects a payload", ErrMalformedMessage)
		}
		if err := decMode.Unmarshal(args[0], &m.Data); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
		}
		if m.Data == nil {
			m.Data = []byte{}
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, typ)
	}

	return m, nil
}
