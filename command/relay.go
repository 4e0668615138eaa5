package command

import (
	"fmt"

	"github.com/go-zoox/cli"
	zconfig "github.com/go-zoox/config"
	"github.com/go-zoox/fs"
	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/relay"
)

func RegisterRelay(app *cli.MultipleProgram) {
	app.Register("relay", &cli.Command{
		Name:  "relay",
		Usage: "signaling relay for the relay and relay-webrtc transports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "the filepath for relay configuration",
				Aliases: []string{"c"},
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "listen port, overrides the configuration",
				Aliases: []string{"p"},
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "websocket path, overrides the configuration",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := relayConfig(ctx.String)
			if err != nil {
				return err
			}

			if level := ctx.String("log-level"); level != "" {
				if err := logging.SetLevel(level); err != nil {
					return err
				}
			}

			return relay.NewServer(cfg).Run()
		},
	})
}

func relayConfig(get lookup) (*relay.ServerConfig, error) {
	var cfg relay.ServerConfig

	if filepath := get("config"); filepath != "" {
		if !fs.IsExist(filepath) {
			return nil, fmt.Errorf("config file not found at %s", filepath)
		}

		if err := zconfig.Load(&cfg, &zconfig.LoadOptions{
			FilePath: filepath,
		}); err != nil {
			return nil, fmt.Errorf("failed to load config file at %s: %v", filepath, err)
		}
	}

	port, err := parseInt(get, "port")
	if err != nil {
		return nil, err
	}
	if port != 0 {
		cfg.Port = port
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if path := get("path"); path != "" {
		cfg.Path = path
	}

	return &cfg, nil
}
