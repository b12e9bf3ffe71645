package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/questlog/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the progression event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print progression events as JSON lines until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bus, err := events.Open(ctx, cfg.Events, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		if !bus.Enabled() {
			return errors.New("events.backend is none; nothing to tail")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		err = bus.Subscribe(ctx, func(_ context.Context, e events.Event) error {
			return enc.Encode(e)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
