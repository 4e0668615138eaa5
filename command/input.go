package command

import (
	"strconv"

	"github.com/go-zoox/cli"
	"github.com/go-zoox/ntun/config"
)

func RegisterInput(app *cli.MultipleProgram) {
	app.Register("input", &cli.Command{
		Name:  "input",
		Usage: "accept socks5 connections and send them through the tunnel",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "socks5 listen host",
				Value: config.DefaultInputHost,
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "socks5 listen port",
				Aliases: []string{"p"},
				Value:   strconv.Itoa(config.DefaultInputPort),
			},
		}, transportFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := inputConfig(ctx.String)
			if err != nil {
				return err
			}
			return runConfig(cfg)
		},
	})
}

func inputConfig(get lookup) (*config.Config, error) {
	port, err := parseInt(get, "port")
	if err != nil {
		return nil, err
	}

	tc, err := parseTransport(get)
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Input: config.InputConfig{
			Type: config.InputTypeSocks5,
			Host: get("host"),
			Port: port,
		},
		Transport: tc,
		Log:       config.LogConfig{Level: get("log-level")},
	}, nil
}
