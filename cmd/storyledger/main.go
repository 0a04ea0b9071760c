/*
main.go - Application entry point

PURPOSE:
  The storyledger CLI. Loads configuration, opens the SQLite store and
  either serves the HTTP API, migrates the schema or seeds a demo scenario.

COMMANDS:
  serve            Run the HTTP server with graceful shutdown
  migrate          Create or update the database schema
  seed SCENARIO    Load a demo scenario (see `seed --list`)

FLAGS (all commands):
  --config     TOML config file (optional)
  --env-file   .env file loaded before STORYLEDGER_* overrides (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection

EXAMPLES:
  storyledger serve --config ./storyledger.toml
  STORYLEDGER_DATABASE_PATH=:memory: storyledger serve
  storyledger seed first-purchase

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/story-ledger/api"
	"github.com/warp/story-ledger/config"
	"github.com/warp/story-ledger/content"
	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
	"github.com/warp/story-ledger/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every command needs after bootstrapping.
type app struct {
	cfg   config.Config
	log   *logrus.Logger
	store *sqlite.Store
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "storyledger",
		Short:         "Journal rewards and pay-per-read story ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file with STORYLEDGER_* variables")

	boot := func() (*app, error) {
		if envFile != "" {
			if err := config.LoadEnv(envFile); err != nil {
				return nil, err
			}
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		log, err := cfg.NewLogger()
		if err != nil {
			return nil, err
		}
		store, err := openStore(cfg, log)
		if err != nil {
			return nil, err
		}
		return &app{cfg: cfg, log: log, store: store}, nil
	}

	root.AddCommand(newServeCmd(boot), newMigrateCmd(boot), newSeedCmd(boot))
	return root
}

func openStore(cfg config.Config, log *logrus.Logger) (*sqlite.Store, error) {
	return sqlite.New(cfg.Database.Path, sqlite.Options{
		MaxAttempts: cfg.Database.MaxTxAttempts,
		Backoff:     cfg.Database.Backoff,
		Logger:      log,
		OnRetry: func(attempt int, err error) {
			metrics.TxRetries.Inc()
		},
	})
}

// newHandler wires the services onto the store.
func (a *app) newHandler() (*api.Handler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	var gen content.Generator
	if a.cfg.Generation.URL != "" {
		gen = content.NewHTTPGenerator(content.HTTPGeneratorOptions{
			BaseURL: a.cfg.Generation.URL,
			Timeout: a.cfg.Generation.Timeout,
		})
	} else {
		a.log.Warn("generation.url not set; content generation disabled")
	}
	return api.NewHandler(a.store, api.Options{
		Settlement: a.cfg.SettlementConfig(),
		Rewards:    a.cfg.RewardsConfig(),
		Calendar:   core.Calendar{Clock: core.SystemClock, DefaultLocation: loc},
		Generator:  gen,
		Logger:     a.log,
	}), nil
}

// =============================================================================
// MIGRATE
// =============================================================================

func newMigrateCmd(boot func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.store.Close()
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.WithField("path", a.cfg.Database.Path).Info("schema up to date")
			return nil
		},
	}
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCmd(boot func() (*app, error)) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "seed SCENARIO",
		Short: "Load a demo scenario into the database",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, id := range api.ScenarioIDs() {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.store.Close()
			h, err := a.newHandler()
			if err != nil {
				return err
			}
			return h.ApplyScenario(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List available scenarios")
	return cmd
}
