package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; provider keys may come from the environment.
	_ = godotenv.Load()
	if err := Execute(); err != nil {
		fatal(err)
		os.Exit(1)
	}
}
