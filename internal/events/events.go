// Package events publishes progression events (task created, task
// completed, task reopened, user leveled up) to a message broker so that
// notification consumers can react to them.
//
// A Bus encodes events as JSON and hands them to a Backend: in-process
// memory, RabbitMQ or Google Cloud Pub/Sub. With no backend configured the
// Bus drops events silently.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTopic is the channel events go to unless configured otherwise.
const DefaultTopic = "questlog.progress"

// Type names what happened.
type Type string

const (
	TaskCreated   Type = "task.created"
	TaskCompleted Type = "task.completed"
	TaskReopened  Type = "task.reopened"
	UserLeveledUp Type = "user.leveled_up"
)

// Event is one progression change. Level and XP are the user's state after
// the change; Delta is the XP granted (negative when revoked).
type Event struct {
	Type       Type      `json:"type"`
	UserID     string    `json:"userId"`
	TaskID     string    `json:"taskId,omitempty"`
	Level      int       `json:"level"`
	XP         int       `json:"xp"`
	Delta      int       `json:"delta"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Attributes are the routing headers attached to every message.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"type":   string(e.Type),
		"userId": e.UserID,
	}
}

// Publisher is what the services depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus encodes events for one topic on one backend.
type Bus struct {
	backend Backend
	topic   string
	logger  *slog.Logger
}

var _ Publisher = (*Bus)(nil)

// NewBus wraps backend. A nil backend gives a Bus that discards events.
func NewBus(backend Backend, topic string, logger *slog.Logger) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bus{backend: backend, topic: topic, logger: logger}
}

// Topic is the channel events are published to.
func (b *Bus) Topic() string {
	return b.topic
}

// Enabled reports whether events leave the process.
func (b *Bus) Enabled() bool {
	return b.backend != nil
}

// Publish encodes e and sends it. OccurredAt defaults to now.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if b.backend == nil {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", e.Type, err)
	}
	id, err := b.backend.Publish(ctx, b.topic, data, e.Attributes())
	if err != nil {
		return fmt.Errorf("events: publishing %s: %w", e.Type, err)
	}
	b.logger.Debug("event published",
		slog.String("type", string(e.Type)),
		slog.String("user_id", e.UserID),
		slog.String("message_id", id),
	)
	return nil
}

// Subscribe decodes events from the topic and passes them to fn until ctx is
// done. Messages that fail to decode are logged and acknowledged.
func (b *Bus) Subscribe(ctx context.Context, fn func(ctx context.Context, e Event) error) error {
	if b.backend == nil {
		return fmt.Errorf("events: no backend configured")
	}
	return b.backend.Subscribe(ctx, b.topic, func(ctx context.Context, msg Message) error {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.Warn("dropping undecodable event",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fn(ctx, e)
	})
}

// Close releases the backend.
func (b *Bus) Close() error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Close()
}
