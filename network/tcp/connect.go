package tcp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-zoox/ntun/logging"
)

var logger = logging.New("network", "tcp")

type ConnectTarget struct {
	Host    string
	Port    int
	Timeout time.Duration
	//
	ID string
}

func Connect(ctx context.Context, cfg *ConnectTarget) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logger.Debugf("[%s] connect to: %s", cfg.ID, addr)

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}
