package command

import (
	"github.com/go-zoox/cli"
	"github.com/go-zoox/ntun/config"
)

func RegisterRun(app *cli.MultipleProgram) {
	app.Register("run", &cli.Command{
		Name:  "run",
		Usage: "run a node from a configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "the filepath for node configuration",
				Aliases:  []string{"c"},
				Required: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}
			return runConfig(cfg)
		},
	})
}
