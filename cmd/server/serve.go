package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/repository/backend"
	"github.com/sakif/questlog/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the questlog HTTP API and blocks until SIGINT or SIGTERM.

	questlog serve --config questlog.yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}
		if err := cfg.ValidateAuth(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := backend.Open(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		bus, err := events.Open(ctx, cfg.Events, logger)
		if err != nil {
			_ = store.Close()
			return err
		}

		srv, err := server.New(cfg, logger, store, bus)
		if err == nil {
			err = srv.Run(ctx)
		}

		if cerr := bus.Close(); cerr != nil {
			logger.Warn("closing event bus", slog.String("error", cerr.Error()))
		}
		if cerr := store.Close(); cerr != nil {
			logger.Warn("closing store", slog.String("error", cerr.Error()))
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
