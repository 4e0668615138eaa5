package main

import (
	"context"
	"os"
	ossignal "os/signal"

	"github.com/go-zoox/logger"
	"github.com/go-zoox/ntun/cipher"
	"github.com/go-zoox/ntun/connection"
	"github.com/go-zoox/ntun/core"
	"github.com/go-zoox/ntun/transport"
)

// Runs both ends in one process: socks5 on 127.0.0.1:1080, tunnel over tcp
// on 127.0.0.1:8081, e.g. curl -x socks5h://127.0.0.1:1080 https://example.com
func main() {
	opts := transport.Options{Cipher: cipher.Default()}

	output, err := core.New(&core.NodeConfig{
		Name:       "output",
		Connection: connection.NewDirectOutput(&connection.DirectOutputConfig{}),
		Transport: transport.NewTCPServer(&transport.TCPServerConfig{
			Host:    "127.0.0.1",
			Port:    8081,
			Options: opts,
		}),
	})
	if err != nil {
		logger.Fatal("failed to create output node: %s", err)
		return
	}

	input, err := core.New(&core.NodeConfig{
		Name: "input",
		Connection: connection.NewSocks5Input(&connection.Socks5InputConfig{
			Host: "127.0.0.1",
			Port: 1080,
		}),
		Transport: transport.NewTCPClient(&transport.TCPClientConfig{
			Host:    "127.0.0.1",
			Port:    8081,
			Options: opts,
		}),
	})
	if err != nil {
		logger.Fatal("failed to create input node: %s", err)
		return
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		if err := output.Run(ctx); err != nil {
			logger.Error("output node: %s", err)
		}
	}()

	if err := input.Run(ctx); err != nil {
		logger.Fatal("input node: %s", err)
	}
}
