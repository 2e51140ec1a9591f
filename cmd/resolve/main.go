package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hydrokb/resolver/pipeline"
)

// Exit codes
const (
	exitSuccess    = 0
	exitUnresolved = 1
	exitError      = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var rerr *pipeline.ResolutionError
		if errors.As(err, &rerr) {
			os.Exit(exitUnresolved)
		}
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
