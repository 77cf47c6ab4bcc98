// Package main is the runwatch command.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/runwatch/internal/cli"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
