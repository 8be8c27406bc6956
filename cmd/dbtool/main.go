package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/config"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/migrations"
)

func main() {
	_ = godotenv.Load(
		"../.env",
		"../.dev.vars",
		".env",
	)

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dbtool",
		Short:        "Manage the subscription database schema",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, log *logger.Logger, _ []string) error {
				return migrations.Up(db, log)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, _ *logger.Logger, _ []string) error {
				v, dirty, err := migrations.Version(db)
				if err != nil {
					return err
				}
				fmt.Printf("version=%d dirty=%t\n", v, dirty)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "fix",
			Short: "Clear a dirty schema left by a failed migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, log *logger.Logger, _ []string) error {
				return migrations.FixDirty(db, log)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(db *sql.DB, log *logger.Logger, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version number %q", args[0])
				}
				log.Infow("forcing database version", "version", v)
				return migrations.Force(db, v)
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: withDB(func(db *sql.DB, _ *logger.Logger, args []string) error {
				n := 1
				if len(args) == 1 {
					parsed, err := strconv.Atoi(args[0])
					if err != nil || parsed < 1 {
						return fmt.Errorf("invalid step count %q", args[0])
					}
					n = parsed
				}
				return migrations.Steps(db, -n)
			}),
		},
	)
	return root
}

type dbCommand func(db *sql.DB, log *logger.Logger, args []string) error

// withDB opens and pings the configured database before running fn.
func withDB(fn dbCommand) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log, err := logger.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}

		return fn(db, log, args)
	}
}
