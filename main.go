package main

import (
	"os"

	"github.com/pluginmind/pluginmind/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
