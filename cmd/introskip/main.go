package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errAuthRequired) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
