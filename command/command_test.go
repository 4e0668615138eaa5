package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-zoox/ntun/config"
	"github.com/go-zoox/ntun/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

func flags(values map[string]string) lookup {
	return func(name string) string {
		return values[name]
	}
}

func freePort(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func build(t *testing.T, cfg *config.Config) *tunnel {
	require.NoError(t, cfg.Validate())
	tn, err := buildTunnel(cfg, newSDPConsole(bytes.NewReader(nil), io.Discard))
	require.NoError(t, err)
	return tn
}

func TestBuildTransports(t *testing.T) {
	cases := []struct {
		name       string
		input      bool
		values     map[string]string
		connection string
		transport  string
	}{
		{"tcp input", true, map[string]string{"transport": "tcp", "transport-host": "10.0.0.1"}, "socks5", "tcp-client"},
		{"tcp output", false, map[string]string{"transport": "tcp"}, "direct", "tcp-server"},
		{"ws input", true, map[string]string{"transport": "ws", "transport-host": "10.0.0.1", "path": "/tunnel"}, "socks5", "ws-client"},
		{"ws output", false, map[string]string{"transport": "ws"}, "direct", "ws-server"},
		{"relay", false, map[string]string{"transport": "relay", "relay": "https://relay.example.com", "join-id": "room", "auth": "id:secret"}, "direct", "relay"},
		{"relay-webrtc", true, map[string]string{"transport": "relay-webrtc", "relay": "ws://relay.example.com", "join-id": "room"}, "socks5", "relay-webrtc"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var cfg *config.Config
			var err error
			if c.input {
				cfg, err = inputConfig(flags(c.values))
			} else {
				cfg, err = outputConfig(flags(c.values))
			}
			require.NoError(t, err)

			tn := build(t, cfg)
			assert.Equal(t, c.connection, tn.node.Connection().Name())
			assert.Equal(t, c.transport, tn.node.Transport().Name())
			assert.Nil(t, tn.rtc)
		})
	}
}

func TestBuildWebRTC(t *testing.T) {
	ice := `[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}]`

	cfg, err := outputConfig(flags(map[string]string{"transport": "webrtc", "ice-servers": ice}))
	require.NoError(t, err)
	require.Len(t, cfg.Transport.ICEServers, 1)
	assert.Equal(t, "u", cfg.Transport.ICEServers[0].Username)

	tn := build(t, cfg)
	assert.Equal(t, "webrtc", tn.node.Transport().Name())
	require.NotNil(t, tn.rtc)
	assert.Equal(t, transport.RoleOffer, tn.console.role)

	cfg, err = inputConfig(flags(map[string]string{"transport": "webrtc", "ice-servers": ice}))
	require.NoError(t, err)
	tn = build(t, cfg)
	assert.Equal(t, transport.RoleAnswer, tn.console.role)

	require.NoError(t, cfg.Validate())
	_, err = buildTunnel(cfg, nil)
	assert.Error(t, err)
}

func TestParseTransportErrors(t *testing.T) {
	for name, values := range map[string]map[string]string{
		"port":        {"transport": "tcp", "transport-port": "http"},
		"chunk size":  {"transport": "tcp", "chunk-size": "big"},
		"cipher":      {"transport": "tcp", "cipher": "maybe"},
		"auth":        {"transport": "relay", "auth": "only-id"},
		"ice servers": {"transport": "webrtc", "ice-servers": "turn:host"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseTransport(flags(values))
			assert.Error(t, err)
		})
	}

	cfg, err := inputConfig(flags(map[string]string{"transport": "tcp"}))
	require.NoError(t, err)
	var cerr *config.Error
	assert.True(t, errors.As(cfg.Validate(), &cerr))
	assert.Equal(t, "transport.host", cerr.Field)
}

func TestDecodeSDP(t *testing.T) {
	var out bytes.Buffer
	c := newSDPConsole(bytes.NewReader(nil), &out)
	c.mediator().OnAnswer("v=0\r\n")

	line := out.String()
	assert.Contains(t, line, "answer: ")

	sdp, err := decodeSDP(line)
	require.NoError(t, err)
	assert.Equal(t, "v=0\r\n", sdp)

	sdp, err = decodeSDP("   ")
	require.NoError(t, err)
	assert.Empty(t, sdp)

	_, err = decodeSDP("offer: !!!")
	assert.Error(t, err)
}

func TestRelayConfig(t *testing.T) {
	cfg, err := relayConfig(flags(map[string]string{"port": "9000", "path": "/signal"}))
	require.NoError(t, err)
	assert.EqualValues(t, 9000, cfg.Port)
	assert.Equal(t, "/signal", cfg.Path)

	_, err = relayConfig(flags(map[string]string{"port": "70000"}))
	assert.Error(t, err)

	_, err = relayConfig(flags(map[string]string{"config": filepath.Join(t.TempDir(), "relay.yml")}))
	assert.Error(t, err)
}

func echoServer(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()
	return l.Addr().String()
}

func start(t *testing.T, tn *tunnel) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tn.run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("timeout waiting for tunnel to stop")
		}
	})
}

func TestTunnelFromFlags(t *testing.T) {
	target := echoServer(t)
	transportPort := freePort(t)
	socksPort := freePort(t)

	common := map[string]string{
		"transport":        "tcp",
		"transport-port":   transportPort,
		"cipher":           "true",
		"cipher-key":       "passphrase",
		"cipher-algorithm": "chacha20-poly1305",
		"rate-limit":       "10 MB/s",
		"retry-delay":      "50ms",
		"log-level":        "error",
	}

	outputValues := map[string]string{"transport-host": "127.0.0.1"}
	inputValues := map[string]string{"transport-host": "127.0.0.1", "host": "127.0.0.1", "port": socksPort}
	for k, v := range common {
		outputValues[k] = v
		inputValues[k] = v
	}

	outputCfg, err := outputConfig(flags(outputValues))
	require.NoError(t, err)
	start(t, build(t, outputCfg))

	inputCfg, err := inputConfig(flags(inputValues))
	require.NoError(t, err)
	start(t, build(t, inputCfg))

	dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort("127.0.0.1", socksPort), nil, proxy.Direct)
	require.NoError(t, err)

	payload := []byte("hello through ntun")
	require.Eventually(t, func() bool {
		conn, err := dialer.Dial("tcp", target)
		if err != nil {
			return false
		}
		defer conn.Close()

		conn.SetDeadline(time.Now().Add(2 * time.Second))
		if _, err := conn.Write(payload); err != nil {
			return false
		}
		got := make([]byte, len(payload))
		if _, err := io.ReadFull(conn, got); err != nil {
			return false
		}
		return bytes.Equal(payload, got)
	}, 10*time.Second, 100*time.Millisecond)
}
