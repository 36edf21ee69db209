package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sitekit_datastore/src/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		logger.Debug().Err(err).Msg("command failed")
		// The logger may not be initialised if config loading failed.
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
