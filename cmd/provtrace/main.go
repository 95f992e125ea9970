package main

import (
	"os"

	"github.com/provtools/provtrace/cmd/provtrace/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
