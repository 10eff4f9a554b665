package main

import (
	"os"

	"github.com/thingsmcp/thingsmcp/cli"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
