package main

import (
	"github.com/go-zoox/cli"
	"github.com/go-zoox/ntun/command"
)

func main() {
	app := cli.NewMultipleProgram(&cli.MultipleProgramConfig{
		Name:    "ntun",
		Usage:   "ntun tunnels tcp connections from a socks5 input to a direct output",
		Version: Version,
	})

	command.RegisterInput(app)
	command.RegisterOutput(app)
	command.RegisterRun(app)
	command.RegisterRelay(app)

	app.Run()
}
