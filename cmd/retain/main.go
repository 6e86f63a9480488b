package main

import (
	"os"

	"github.com/mnemora/retain/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
