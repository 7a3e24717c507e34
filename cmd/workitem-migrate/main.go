package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/pat/workitem-migrate/internal/cli"
)

func main() {
	// Tokens usually live in a local .env during development. Absence
	// is fine; the real environment wins either way.
	_ = godotenv.Load()

	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
