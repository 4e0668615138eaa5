package protocol

// Multiplexer wire protocol, one message per transport frame.
//
// Every message is a CBOR array whose first two items are the message type
// and the connection id:
//
//  CONNECT: [0, CONNECTION_ID, HOST, PORT]
//  CLOSE:   [1, CONNECTION_ID, REASON | null]
//  DATA:    [2, CONNECTION_ID, PAYLOAD (byte string)]
//
// CONNECTION_ID is an unsigned 64 bit integer, unique within one transport
// session only.
