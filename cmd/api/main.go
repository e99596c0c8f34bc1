package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// @title Document Image API
// @version 1.0
// @description Resolves document IDs to images and reports request statistics.
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
