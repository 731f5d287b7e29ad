package main

import (
	"os"

	"github.com/tmc/rclindex/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
