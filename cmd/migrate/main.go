package main

import (
	"flag"
	"log"

	"ordercore/internal/app/bootstrap"
	"ordercore/internal/platform/db"
)

// Schema migration entrypoint: `migrate -direction up|down`.
func main() {
	direction := flag.String("direction", string(db.MigrateUp), "up applies every pending migration, down rolls back one")
	flag.Parse()

	if err := bootstrap.Migrate(db.MigrateDirection(*direction)); err != nil {
		log.Fatalf("ordercore migrate failed: %v", err)
	}
}
