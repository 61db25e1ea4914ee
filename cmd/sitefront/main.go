package main

import (
	"os"

	"github.com/sitefront/sitefront/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
