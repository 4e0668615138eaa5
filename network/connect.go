package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-zoox/ntun/network/tcp"
)

type ConnectTarget struct {
	Type string
	Host string
	Port int
	// Timeout bounds the dial, 0 means no timeout
	Timeout time.Duration
	//
	ID string
}

// Connect dials the target; only tcp is supported.
func Connect(ctx context.Context, cfg *ConnectTarget) (net.Conn, error) {
	switch cfg.Type {
	case "", "tcp":
		return tcp.Connect(ctx, &tcp.ConnectTarget{
			Host:    cfg.Host,
			Port:    cfg.Port,
			Timeout: cfg.Timeout,
			ID:      cfg.ID,
		})
	default:
		return nil, fmt.Errorf("network type(%s) not supported", cfg.Type)
	}
}
