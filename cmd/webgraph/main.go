// File: cmd/webgraph/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/oeb25/webgraph/cmd"
	"github.com/oeb25/webgraph/internal/observability"
)

func main() {
	// SIGINT or SIGTERM cancels the run context; the engine stops at the next
	// round boundary with its state checkpointed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
