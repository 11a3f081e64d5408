package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medofficehq/chargerules/internal/api"
	"github.com/medofficehq/chargerules/internal/execution"
	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/rules"
	"github.com/medofficehq/chargerules/internal/services"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rule execution HTTP API",
	Long: `Start the HTTP server exposing rule execution, progress polling,
results, and run management endpoints.

Results are persisted to PostgreSQL when database.url is configured;
otherwise an in-memory store is used (results do not survive restarts).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := lib.NewLogger(verbose)

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if serveListen != "" {
		config.Server.Listen = serveListen
	}
	if err := config.Athena.Validate(); err != nil {
		return fmt.Errorf("athena configuration: %w", err)
	}

	httpClient := services.NewHTTPClient(config.Athena.RequestTimeout(), config.Retry, logger)
	provider := services.NewAthenaClient(httpClient, config.Athena, logger)
	registry := rules.DefaultRegistry(provider)

	var store services.ResultStore
	if config.Database.URL != "" {
		pgStore, err := services.NewPostgresStore(cmd.Context(), config.Database, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		logger.Info().Msg("using postgres result store")
	} else {
		store = services.NewMemoryStore()
		logger.Warn().Msg("no database configured, results are held in memory only")
	}

	tracker := execution.NewTracker()
	executor := execution.NewExecutor(registry, store, tracker, config.Execution, logger)
	handler := api.NewHandler(executor, registry, store, logger)
	server := api.NewServer(handler, logger)

	// Bound tracker memory on long-lived processes
	pruneDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-pruneDone:
				return
			case <-ticker.C:
				tracker.PruneOlderThan(24 * time.Hour)
			}
		}
	}()
	defer close(pruneDone)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(config.Server.Listen)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-signals:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		return server.Shutdown(context.Background())
	}
}
