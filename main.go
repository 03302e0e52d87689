package main

import (
	"os"

	"github.com/signalnine/hypertune/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
