package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/hubflow/internal/commands"
)

func main() {
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
