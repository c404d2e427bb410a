package main

import (
	"log"
	"os"

	"github.com/safar/go-bookstore/internal/config"
	"github.com/safar/go-bookstore/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := database.MigrateDirection(os.Args[1])
	if direction != database.MigrateUp && direction != database.MigrateDown {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Running migrations %s from %s", direction, cfg.Database.MigrationsDir)
	if err := database.Migrate(db, cfg.Database.MigrationsDir, direction); err != nil {
		log.Fatalf("Migrate: %v", err)
	}

	log.Printf("Migrations %s complete", direction)
}
