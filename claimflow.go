package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/claimflow/cmd"
)

func main() {
	app := cmd.NewApp()

	err := app.Run(os.Args)
	if err != nil {
		if _, ok := err.(cli.ExitCoder); ok {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
