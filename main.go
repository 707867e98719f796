package main

import (
	"os"

	"github.com/leefowlercu/atlas-archive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
