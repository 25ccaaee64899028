package main

import (
	"os"

	"github.com/solatis/patchwire/cmd/patchwire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
