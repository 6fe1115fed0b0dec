package main

import (
	"os"

	"github.com/tenderintel/intelbidder/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
