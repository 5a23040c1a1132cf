package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	// An interrupt cancels the command context; that is a clean shutdown,
	// not an error worth printing twice.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "voicestack: %v\n", err)
	}
	os.Exit(1)
}
