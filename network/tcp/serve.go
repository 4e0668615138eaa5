package tcp

import (
	"net"
	"strconv"
)

type ServeConfig struct {
	Host string
	Port int
}

func Listen(cfg *ServeConfig) (net.Listener, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logger.Infof("listen tcp server at: %s", listener.Addr())
	return listener, nil
}
