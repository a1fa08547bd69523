package main

import (
	"os"

	"github.com/carsonhq/memoryd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
