package main

import (
	"os"

	"github.com/bnema/rotator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
