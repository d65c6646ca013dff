package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRoot()
	rootCmd := root.Command()
	cmd, err := rootCmd.ExecuteContextC(ctx)
	cancel()

	if merr := root.writeMetrics(); merr != nil {
		fmt.Fprintf(os.Stderr, "Error writing metrics: %s\n", merr)
	}
	if err != nil {
		printError(cmd, err)
		os.Exit(1)
	}
}
