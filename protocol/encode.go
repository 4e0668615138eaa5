package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func Encode(m *Message) ([]byte, error) {
	items := []interface{}{uint8(m.Type), uint64(m.ConnectionID)}

	switch m.Type {
	case MessageTypeConnect:
		items = append(items, m.Host, m.Port)
	case MessageTypeClose:
		if m.Reason == "" {
			items = append(items, nil)
		} else {
			items = append(items, m.Reason)
		}
	case MessageTypeData:
		data := m.Data
		if data == nil {
			data = []byte{}
		}
		items = append(items, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}

	return encMode.Marshal(items)
}
