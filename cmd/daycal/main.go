package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	appLog "daycal/internal/log"
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		appLog.Error("failed to close store", cerr)
	}
	if err != nil {
		appLog.Error("daycal failed", err)
		stop()
		os.Exit(1)
	}
}
