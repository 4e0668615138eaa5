package network

import (
	"fmt"
	"net"

	"github.com/go-zoox/ntun/network/tcp"
)

type ServeConfig struct {
	Type string
	Host string
	Port int
}

// Listen opens a listener; only tcp is supported.
func Listen(cfg *ServeConfig) (net.Listener, error) {
	switch cfg.Type {
	case "", "tcp":
		return tcp.Listen(&tcp.ServeConfig{
			Host: cfg.Host,
			Port: cfg.Port,
		})
	default:
		return nil, fmt.Errorf("network type(%s) not supported", cfg.Type)
	}
}
