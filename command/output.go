package command

import (
	"github.com/go-zoox/cli"
	"github.com/go-zoox/ntun/config"
)

func RegisterOutput(app *cli.MultipleProgram) {
	app.Register("output", &cli.Command{
		Name:  "output",
		Usage: "open the connections requested through the tunnel",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "dial-timeout",
				Usage: "timeout to connect destinations, e.g. 10s",
			},
		}, transportFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := outputConfig(ctx.String)
			if err != nil {
				return err
			}
			return runConfig(cfg)
		},
	})
}

func outputConfig(get lookup) (*config.Config, error) {
	tc, err := parseTransport(get)
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Output: config.OutputConfig{
			Type:        config.OutputTypeDirect,
			DialTimeout: get("dial-timeout"),
		},
		Transport: tc,
		Log:       config.LogConfig{Level: get("log-level")},
	}, nil
}
