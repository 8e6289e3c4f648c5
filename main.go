package main

import (
	"github.com/joho/godotenv"

	"lockd/cmd"
)

func main() {
	// Environment overrides may live in a local .env during development
	godotenv.Load()

	cmd.Execute()
}
