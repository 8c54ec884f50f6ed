package main

import (
	"os"

	"github.com/gnb-webdashboard/gnbdash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
