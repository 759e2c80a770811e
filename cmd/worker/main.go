package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"acorn/internal/app/bootstrap"
)

// Worker process entrypoint: expiry sweep plus bus consumers.
func main() {
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("acorn worker bootstrap failed: %v", err)
	}
	defer func() {
		_ = app.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("acorn worker stopped: %v", err)
	}
}
