package core

import "errors"

var (
	ErrNoConnection = errors.New("node has no connection")
	ErrNoTransport  = errors.New("node has no transport")
)

const DefaultNodeName = "ntun"
