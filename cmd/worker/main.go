package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ordercore/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Run the outbox processor, expiration consumer and sweep until signalled.
func main() {
	log.Println("ordercore worker starting")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker(ctx)
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		log.Printf("worker shutdown close failed: %v", err)
	}
	if runErr != nil {
		log.Printf("ordercore worker stopped with error: %v", runErr)
		os.Exit(1)
	}
}
