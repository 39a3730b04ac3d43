package main

import (
	"os"

	"github.com/deveshsawant05/QuizZone-sub000/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
