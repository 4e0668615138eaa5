package command

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-zoox/ntun/config"
	"github.com/go-zoox/ntun/connection"
	"github.com/go-zoox/ntun/core"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/transport"
)

// tunnel is a node built from a validated config.
type tunnel struct {
	node *core.Node

	// set for the webrtc transport, whose SDP is exchanged on the console
	rtc     *transport.WebRTC
	console *sdpConsole
}

func (t *tunnel) run(ctx context.Context) error {
	if t.rtc != nil {
		go t.console.serve(ctx, t.rtc)
	}
	return t.node.Run(ctx)
}

func buildTunnel(cfg *config.Config, console *sdpConsole) (*tunnel, error) {
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}

	var conn *connection.Connection
	if cfg.IsInput() {
		conn = connection.NewSocks5Input(&connection.Socks5InputConfig{
			Host: cfg.Input.Host,
			Port: int(cfg.Input.Port),
		})
	} else {
		conn = connection.NewDirectOutput(&connection.DirectOutputConfig{
			DialTimeout: cfg.Output.DialTimeoutDuration(),
		})
	}

	t := &tunnel{}
	tr, err := buildTransport(cfg, console, t)
	if err != nil {
		return nil, err
	}

	node, err := core.New(&core.NodeConfig{
		Connection: conn,
		Transport:  tr,
	})
	if err != nil {
		return nil, err
	}
	t.node = node
	return t, nil
}

// Input nodes dial the transport and output nodes listen; over webrtc the
// output node offers.
func buildTransport(cfg *config.Config, console *sdpConsole, t *tunnel) (transport.Transport, error) {
	tc := &cfg.Transport
	dial := cfg.IsInput()

	opts, err := transportOptions(tc)
	if err != nil {
		return nil, err
	}
	retry, err := tc.Retry()
	if err != nil {
		return nil, err
	}

	switch tc.Type {
	case config.TransportTCP:
		if dial {
			return transport.NewTCPClient(&transport.TCPClientConfig{
				Host:       tc.Host,
				Port:       int(tc.Port),
				RetryDelay: retry,
				Options:    opts,
			}), nil
		}
		return transport.NewTCPServer(&transport.TCPServerConfig{
			Host:    tc.Host,
			Port:    int(tc.Port),
			Options: opts,
		}), nil

	case config.TransportWebSocket:
		if dial {
			u := url.URL{
				Scheme: "ws",
				Host:   net.JoinHostPort(tc.Host, strconv.FormatInt(tc.Port, 10)),
				Path:   tc.Path,
			}
			return transport.NewWebSocketClient(&transport.WebSocketClientConfig{
				URL:        u.String(),
				RetryDelay: retry,
				Options:    opts,
			}), nil
		}
		return transport.NewWebSocketServer(&transport.WebSocketServerConfig{
			Host:    tc.Host,
			Port:    int(tc.Port),
			Path:    tc.Path,
			Options: opts,
		}), nil

	case config.TransportWebRTC:
		if console == nil {
			return nil, fmt.Errorf("webrtc transport needs a console to exchange sdp")
		}

		role := transport.RoleOffer
		if dial {
			role = transport.RoleAnswer
		}
		console.role = role

		w := transport.NewWebRTC(&transport.WebRTCConfig{
			Role:       role,
			ICEServers: tc.ICEServers,
			Mediator:   console.mediator(),
			RetryDelay: retry,
			Options:    opts,
		})
		t.rtc, t.console = w, console
		return w, nil

	case config.TransportRelay, config.TransportRelayWebRTC:
		sealer, err := tc.NewCipher()
		if err != nil {
			return nil, err
		}

		rc := transport.RelayConfig{
			JoinID: tc.JoinID,
			Dial: signal.WebSocketDialer(
				signal.RelayResolver(tc.Relay, tc.Credential(), tc.ICEServers),
				nil,
			),
			Cipher:  sealer,
			Options: opts,
		}
		if tc.Type == config.TransportRelay {
			return transport.NewRelay(&rc), nil
		}
		return transport.NewRelayWebRTC(&transport.RelayWebRTCConfig{
			RelayConfig: rc,
			ICEServers:  tc.ICEServers,
		}), nil
	}

	return nil, &config.Error{Field: "transport.type", Reason: fmt.Sprintf("unsupported type %q", tc.Type)}
}

func transportOptions(tc *config.TransportConfig) (transport.Options, error) {
	rate, err := tc.Rate()
	if err != nil {
		return transport.Options{}, err
	}

	opts := transport.Options{
		RateLimit: rate,
		ChunkSize: int(tc.ChunkSize),
	}
	if tc.Cipher {
		c, err := tc.NewCipher()
		if err != nil {
			return transport.Options{}, err
		}
		opts.Cipher = c
	}
	return opts, nil
}
