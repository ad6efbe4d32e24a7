package main

import (
	"os"

	"github.com/scalaris-go/kvquery/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
