package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/cache"
	"github.com/halden/converse/internal/cache/sqlite"
	"github.com/halden/converse/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	migrate := flag.Bool("migrate", false, "apply cache schema migrations")
	flush := flag.Bool("flush", false, "drop every cached timeline")
	drop := flag.String("drop", "", "drop the cached timeline for one session id")
	flag.Parse()

	if !*migrate && !*flush && *drop == "" {
		fmt.Println("usage: cachectl [-migrate] [-flush] [-drop <session-id>]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if cfg.Cache.Backend != "sqlite" {
		panic(fmt.Sprintf("cachectl only manages the sqlite backend, configured backend is %q", cfg.Cache.Backend))
	}

	fmt.Printf("Opening cache at %s...\n", cfg.Cache.SQLite.Path)
	store, err := sqlite.Open(cfg.Cache.SQLite.Path)
	if err != nil {
		panic(fmt.Sprintf("Failed to open cache: %v", err))
	}
	defer store.Close()

	if *migrate {
		if err := store.Migrate(); err != nil {
			panic(fmt.Sprintf("Migration failed: %v", err))
		}
		fmt.Println("Migrations applied")
	}

	if *flush {
		n, err := store.Flush(context.Background())
		if err != nil {
			panic(fmt.Sprintf("Flush failed: %v", err))
		}
		fmt.Printf("Flushed %d cached timelines\n", n)
	}

	if *drop != "" {
		id, err := uuid.Parse(*drop)
		if err != nil {
			panic(fmt.Sprintf("Invalid session id %q: %v", *drop, err))
		}
		if err := store.Delete(context.Background(), cache.TimelineKey(id)); err != nil {
			panic(fmt.Sprintf("Drop failed: %v", err))
		}
		fmt.Printf("Dropped cached timeline for session %s\n", id)
	}
}
