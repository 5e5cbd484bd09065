package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/logging"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/migrations"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	if len(os.Args) < 2 {
		logger.Info("applying migrations")
		if err := migrations.Up(db, logger); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		return
	}

	switch os.Args[1] {
	case "up":
		if err := migrations.Up(db, logger); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}

	case "fix":
		logger.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			logger.Fatal("failed to fix dirty database", zap.Error(err))
		}
		logger.Info("database fixed")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}

		logger.Info("forcing database version", zap.Uint("version", v))
		if err := migrations.ForceVersion(db, v); err != nil {
			logger.Fatal("failed to force version", zap.Error(err))
		}

	case "status":
		v, dirty, err := migrations.Status(db)
		if err != nil {
			logger.Fatal("failed to read migration status", zap.Error(err))
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)

	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [up|fix|force <version>|status]\n", os.Args[0])
		os.Exit(1)
	}
}
