package main

import (
	"os"

	"github.com/isdelr/tts-broker-be/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
