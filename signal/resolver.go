package signal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-zoox/ntun/user"
)

// Info is everything needed to join a relay room.
type Info struct {
	URL        string
	Room       string
	Credential *user.Credential
	// ICEServers known locally, merged with the ones the relay announces.
	ICEServers []ICEServer
}

// Resolver looks up the relay for a join id once per transport start.
type Resolver func(ctx context.Context, joinID string) (*Info, error)

// RelayResolver resolves every join id to a room on one self-hosted relay.
func RelayResolver(relay string, credential *user.Credential, iceServers []ICEServer) Resolver {
	return func(ctx context.Context, joinID string) (*Info, error) {
		if joinID == "" {
			return nil, fmt.Errorf("join id is required")
		}

		u, err := NormalizeRelayURL(relay)
		if err != nil {
			return nil, err
		}

		return &Info{
			URL:        u,
			Room:       joinID,
			Credential: credential,
			ICEServers: iceServers,
		}, nil
	}
}

// NormalizeRelayURL maps http(s) relay addresses onto ws(s).
func NormalizeRelayURL(relay string) (string, error) {
	u, err := url.Parse(relay)
	if err != nil {
		return "", fmt.Errorf("invalid relay: %v", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid relay: missing host in %q", relay)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay: unsupported scheme %q", u.Scheme)
	}

	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// WebSocketDialer resolves the join id and returns a websocket participant.
func WebSocketDialer(resolve Resolver, cfg *WebSocketConfig) Dialer {
	return func(ctx context.Context, joinID string) (SignalServer, error) {
		info, err := resolve(ctx, joinID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve signal server: %w", err)
		}

		c := WebSocketConfig{}
		if cfg != nil {
			c = *cfg
		}
		c.Info = info
		return NewWebSocketSignalServer(&c), nil
	}
}
