package relay

import (
	"fmt"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/signal"
	"github.com/go-zoox/ntun/user"
	"github.com/go-zoox/zoox"
	"github.com/go-zoox/zoox/components/application/websocket"
	zd "github.com/go-zoox/zoox/defaults"
)

const (
	DefaultPort = 8443
	DefaultPath = "/"
)

type Server interface {
	Run() error
}

type ServerConfig struct {
	Host        string             `config:"host"`
	Port        int64              `config:"port"`
	Path        string             `config:"path"`
	Credentials []user.Credential  `config:"clients"`
	ICEServers  []signal.ICEServer `config:"ice_servers"`
	Logger      logging.Logger
}

type server struct {
	Host string
	Port int64
	Path string

	hub *Hub
}

// NewServer returns the signaling relay: a websocket endpoint in front of
// a Hub.
func NewServer(cfg *ServerConfig) Server {
	var Port int64 = DefaultPort
	Path := DefaultPath

	if cfg.Port != 0 {
		Port = cfg.Port
	}
	if cfg.Path != "" {
		Path = cfg.Path
	}

	return &server{
		Host: cfg.Host,
		Port: Port,
		Path: Path,
		hub: NewHub(&HubConfig{
			Credentials: cfg.Credentials,
			ICEServers:  cfg.ICEServers,
			Logger:      cfg.Logger,
		}),
	}
}

func (s *server) Run() error {
	core := zd.Default()

	core.WebSocket(s.Path, func(ctx *zoox.Context, client *websocket.Client) {
		client.OnError = func(err error) {
			if e, ok := err.(*websocket.CloseError); ok {
				ctx.Logger.Error("[error][client: %s][code: %d] %v", client.ID, e.Code, e)
			} else {
				ctx.Logger.Error("[error][client: %s][code: nocode] %v", client.ID, err)
			}
		}

		client.OnConnect = func() {
			s.hub.Connect(client.ID, client)
		}

		client.OnDisconnect = func() {
			s.hub.Disconnect(client.ID)
		}

		client.OnBinaryMessage = func(raw []byte) {
			s.hub.Handle(client.ID, raw)
		}
	})

	return core.Run(fmt.Sprintf("%s:%d", s.Host, s.Port))
}
