package connection

import (
	"github.com/cespare/xxhash/v2"
	"github.com/go-zoox/ntun/protocol"
)

// NewID derives a connection id from the accepting listener and the client
// address; it only has to be unique within one session.
func NewID(listener, client string) protocol.ConnectionID {
	return protocol.ConnectionID(xxhash.Sum64String(listener + "--" + client))
}
