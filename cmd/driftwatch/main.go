package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ghostshell/app/driftwatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := driftwatch.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		os.Exit(1)
	}
}
