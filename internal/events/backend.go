package events

import "context"

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error asks the broker to
// redeliver.
type Handler func(ctx context.Context, msg Message) error

// Backend is the broker-specific transport under a Bus.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	// Subscribe blocks, feeding messages to handler until ctx is done or the
	// backend is closed.
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}
