package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndConnect(t *testing.T) {
	ln, err := Listen(&ServeConfig{Type: "tcp", Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := Connect(context.Background(), &ConnectTarget{Type: "tcp", Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.NoError(t, err)
	defer conn.Close()

	select {
	case server := <-accepted:
		server.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("expect an accepted connection")
	}
}

func TestUnsupportedNetwork(t *testing.T) {
	_, err := Connect(context.Background(), &ConnectTarget{Type: "udp", Host: "127.0.0.1", Port: 53})
	assert.Error(t, err)

	_, err = Listen(&ServeConfig{Type: "udp"})
	assert.Error(t, err)
}

func TestConnectRefusedIsDescribed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Connect(context.Background(), &ConnectTarget{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, "connection refused", Describe(err))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "connection reset", Describe(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.Equal(t, "eof", Describe(io.EOF))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}
