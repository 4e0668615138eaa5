package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-zoox/cli"
	"github.com/go-zoox/ntun/config"
)

// lookup reads a flag value, ctx.String in commands.
type lookup func(name string) string

func transportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "transport",
			Usage:    "transport type: tcp, ws, webrtc, relay or relay-webrtc",
			Aliases:  []string{"t"},
			Required: true,
		},
		&cli.StringFlag{
			Name:  "transport-host",
			Usage: "host to connect (input) or listen on (output) for tcp and ws",
		},
		&cli.StringFlag{
			Name:  "transport-port",
			Usage: "port to connect or listen on for tcp and ws",
			Value: strconv.Itoa(config.DefaultTransportPort),
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "websocket path",
		},
		&cli.StringFlag{
			Name:  "relay",
			Usage: "relay server, format: protocol://host:port/path",
		},
		&cli.StringFlag{
			Name:  "join-id",
			Usage: "room both sides join on the relay",
		},
		&cli.StringFlag{
			Name:  "auth",
			Usage: "relay auth info, format: client_id:client_secret",
		},
		&cli.StringFlag{
			Name:  "cipher",
			Usage: "encrypt every frame, true or false",
			Value: "false",
		},
		&cli.StringFlag{
			Name:  "cipher-key",
			Usage: "passphrase the cipher key is derived from",
		},
		&cli.StringFlag{
			Name:  "cipher-algorithm",
			Usage: "aes-256-gcm or chacha20-poly1305",
		},
		&cli.StringFlag{
			Name:  "rate-limit",
			Usage: "bytes per second or a rate such as \"250 kbps\"",
		},
		&cli.StringFlag{
			Name:  "chunk-size",
			Usage: "max bytes per raw write",
		},
		&cli.StringFlag{
			Name:  "retry-delay",
			Usage: "redial delay, e.g. 3s",
		},
		&cli.StringFlag{
			Name:  "ice-servers",
			Usage: "ice servers as json, e.g. [{\"urls\":[\"turn:host:3478\"],\"username\":\"u\",\"credential\":\"p\"}]",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
			Value: config.DefaultLogLevel,
		},
	}
}

func parseTransport(get lookup) (config.TransportConfig, error) {
	tc := config.TransportConfig{
		Type:            get("transport"),
		Host:            get("transport-host"),
		Path:            get("path"),
		Relay:           get("relay"),
		JoinID:          get("join-id"),
		CipherKey:       get("cipher-key"),
		CipherAlgorithm: get("cipher-algorithm"),
		RateLimit:       get("rate-limit"),
		RetryDelay:      get("retry-delay"),
	}

	var err error
	if tc.Port, err = parseInt(get, "transport-port"); err != nil {
		return tc, err
	}
	if tc.ChunkSize, err = parseInt(get, "chunk-size"); err != nil {
		return tc, err
	}

	if v := get("cipher"); v != "" {
		if tc.Cipher, err = strconv.ParseBool(v); err != nil {
			return tc, fmt.Errorf("invalid cipher: %v", err)
		}
	}

	if auth := get("auth"); auth != "" {
		if tc.ClientID, tc.ClientSecret, err = parseAuth(auth); err != nil {
			return tc, err
		}
	}

	if v := get("ice-servers"); v != "" {
		if err := json.Unmarshal([]byte(v), &tc.ICEServers); err != nil {
			return tc, fmt.Errorf("invalid ice servers json: %v", err)
		}
	}

	return tc, nil
}

func parseAuth(auth string) (clientID, clientSecret string, err error) {
	parts := strings.SplitN(auth, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid auth, format: client_id:client_secret")
	}
	return parts[0], parts[1], nil
}

func parseInt(get lookup, name string) (int64, error) {
	v := get(name)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return n, nil
}

// runConfig validates cfg and runs it until SIGINT or SIGTERM.
func runConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	t, err := buildTunnel(cfg, newSDPConsole(os.Stdin, os.Stdout))
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return t.run(ctx)
}

