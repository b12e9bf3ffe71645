package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/questlog/internal/config"
)

// Open builds the Bus selected by cfg.Backend.
func Open(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (*Bus, error) {
	var backend Backend

	switch strings.ToLower(cfg.Backend) {
	case "", "none":
	case "memory":
		backend = NewMemory()
	case "rabbitmq":
		r, err := NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		backend = r
	case "pubsub":
		p, err := NewPubSub(ctx, cfg.PubSubProjectID, cfg.PubSubCredentialsFile)
		if err != nil {
			return nil, err
		}
		backend = p
	default:
		return nil, fmt.Errorf("events: unknown backend %q", cfg.Backend)
	}

	bus := NewBus(backend, cfg.Topic, logger)
	logger.Info("event bus ready",
		slog.String("backend", strings.ToLower(cfg.Backend)),
		slog.String("topic", bus.Topic()),
		slog.Bool("enabled", bus.Enabled()),
	)
	return bus, nil
}
