package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/storage/postgres"
)

// cmdMigrate manages the hosted postgres schema. The local sqlite store
// migrates itself whenever it is opened.
func cmdMigrate(args []string) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate requires storage.driver postgres (current: %s)", cfg.Storage.Driver)
	}

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mg, err := postgres.NewMigrator(cfg.Storage.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch action {
	case "up":
		if err := mg.Up(); err != nil {
			return err
		}
	case "down":
		if err := mg.Down(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Printf("Schema version: %d (dirty)\n", version)
		return nil
	}
	fmt.Printf("Schema version: %d\n", version)
	return nil
}
