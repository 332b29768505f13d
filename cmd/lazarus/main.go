package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/lazarus/cmd"
	"github.com/xkilldash9x/lazarus/internal/observability"
)

// osExit allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Interrupt signals cancel the context so in-flight sandbox processes
	// and oracle calls are torn down before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return
		}
		osExit(1)
	}
}
