package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ordercore/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (ports + adapters + use cases).
// 3) Serve HTTP until SIGINT/SIGTERM, then drain.
func main() {
	log.Println("ordercore api starting")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI(ctx)
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		log.Printf("api shutdown close failed: %v", err)
	}
	if runErr != nil {
		log.Printf("ordercore api stopped with error: %v", runErr)
		os.Exit(1)
	}
}
