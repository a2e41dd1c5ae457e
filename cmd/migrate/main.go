package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	source := flags.String("source", "file://migrations", "migration source URL")
	steps := flags.IntP("steps", "n", 1, "number of migrations to roll back with down")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] up|down\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	direction := flags.Arg(0)
	if direction == "" {
		direction = "up"
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("direction", direction).
		Msg("Running migrations")

	switch direction {
	case "up":
		err = postgres.RunMigrations(cfg.Database.DSN(), *source)
	case "down":
		if *steps < 1 {
			log.Fatal().Int("steps", *steps).Msg("steps must be at least 1")
		}
		err = postgres.RollbackMigrations(cfg.Database.DSN(), *source, *steps)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
