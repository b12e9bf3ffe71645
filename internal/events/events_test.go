package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/questlog/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusPublishEncodesEvent(t *testing.T) {
	mem := NewMemory()
	bus := NewBus(mem, "", discardLogger())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := bus.Publish(context.Background(), Event{
		Type:       TaskCompleted,
		UserID:     "u1",
		TaskID:     "t1",
		Level:      2,
		XP:         15,
		Delta:      30,
		OccurredAt: at,
	})
	require.NoError(t, err)

	msgs := mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]string{"type": "task.completed", "userId": "u1"}, msgs[0].Attributes)
	assert.NotEmpty(t, msgs[0].ID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "task.completed", body["type"])
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, "t1", body["taskId"])
	assert.Equal(t, float64(2), body["level"])
	assert.Equal(t, float64(15), body["xp"])
	assert.Equal(t, float64(30), body["delta"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["occurredAt"])
}

func TestBusStampsOccurredAt(t *testing.T) {
	mem := NewMemory()
	bus := NewBus(mem, "custom", discardLogger())
	require.NoError(t, bus.Publish(context.Background(), Event{Type: UserLeveledUp, UserID: "u1"}))

	var e Event
	require.NoError(t, json.Unmarshal(mem.Messages()[0].Data, &e))
	assert.WithinDuration(t, time.Now(), e.OccurredAt, 5*time.Second)
	assert.Equal(t, "custom", bus.Topic())
}

func TestDisabledBus(t *testing.T) {
	bus := NewBus(nil, "", discardLogger())
	assert.False(t, bus.Enabled())
	assert.Equal(t, DefaultTopic, bus.Topic())
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: TaskCreated}))
	assert.Error(t, bus.Subscribe(context.Background(), func(context.Context, Event) error { return nil }))
	assert.NoError(t, bus.Close())
}

func TestBusSubscribe(t *testing.T) {
	mem := NewMemory()
	bus := NewBus(mem, "", discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, func(_ context.Context, e Event) error {
			received <- e
			return nil
		})
	}()
	require.Eventually(t, func() bool { return mem.subscriberCount(DefaultTopic) == 1 }, time.Second, 5*time.Millisecond)

	// Undecodable payloads are skipped rather than delivered.
	_, err := mem.Publish(ctx, DefaultTopic, []byte("not json"), nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, Event{Type: TaskReopened, UserID: "u2", TaskID: "t9", Delta: -30}))

	select {
	case e := <-received:
		assert.Equal(t, TaskReopened, e.Type)
		assert.Equal(t, "u2", e.UserID)
		assert.Equal(t, -30, e.Delta)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, mem.subscriberCount(DefaultTopic))
}

func TestMemoryChannelsAreIsolated(t *testing.T) {
	mem := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 4)
	go func() {
		_ = mem.Subscribe(ctx, "a", func(_ context.Context, m Message) error {
			got <- m
			return nil
		})
	}()
	require.Eventually(t, func() bool { return mem.subscriberCount("a") == 1 }, time.Second, 5*time.Millisecond)

	_, err := mem.Publish(ctx, "b", []byte("for b"), nil)
	require.NoError(t, err)
	_, err = mem.Publish(ctx, "a", []byte("for a"), map[string]string{"k": "v"})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "for a", string(m.Data))
		assert.Equal(t, "v", m.Attributes["k"])
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Len(t, mem.Messages(), 2)
}

func TestMemoryClose(t *testing.T) {
	mem := NewMemory()
	done := make(chan error, 1)
	go func() {
		done <- mem.Subscribe(context.Background(), "a", func(context.Context, Message) error { return nil })
	}()
	require.Eventually(t, func() bool { return mem.subscriberCount("a") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, mem.Close())
	require.NoError(t, mem.Close())
	assert.NoError(t, <-done)

	_, err := mem.Publish(context.Background(), "a", nil, nil)
	assert.True(t, errors.Is(err, errMemoryClosed))
	assert.ErrorIs(t, mem.Subscribe(context.Background(), "a", nil), errMemoryClosed)
}

func TestMemoryCopiesPayload(t *testing.T) {
	mem := NewMemory()
	data := []byte("abc")
	attrs := map[string]string{"k": "v"}
	_, err := mem.Publish(context.Background(), "a", data, attrs)
	require.NoError(t, err)

	data[0] = 'z'
	attrs["k"] = "changed"
	msg := mem.Messages()[0]
	assert.Equal(t, "abc", string(msg.Data))
	assert.Equal(t, "v", msg.Attributes["k"])
}

func TestHeadersToAttributes(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    map[string]string
	}{
		{name: "empty", headers: nil, want: nil},
		{name: "string", headers: amqp.Table{"type": "task.created"}, want: map[string]string{"type": "task.created"}},
		{name: "bytes", headers: amqp.Table{"userId": []byte("u1")}, want: map[string]string{"userId": "u1"}},
		{name: "number", headers: amqp.Table{"attempt": int32(3)}, want: map[string]string{"attempt": "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, headersToAttributes(tt.headers))
		})
	}
}

func TestNewMessageID(t *testing.T) {
	a, b := newMessageID(), newMessageID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	bus, err := Open(ctx, config.EventsConfig{Backend: "none"}, discardLogger())
	require.NoError(t, err)
	assert.False(t, bus.Enabled())

	bus, err = Open(ctx, config.EventsConfig{Backend: "memory", Topic: "t"}, discardLogger())
	require.NoError(t, err)
	assert.True(t, bus.Enabled())
	assert.Equal(t, "t", bus.Topic())
	require.NoError(t, bus.Close())

	_, err = Open(ctx, config.EventsConfig{Backend: "kafka"}, discardLogger())
	assert.Error(t, err)

	_, err = Open(ctx, config.EventsConfig{Backend: "rabbitmq"}, discardLogger())
	assert.Error(t, err)

	_, err = Open(ctx, config.EventsConfig{Backend: "pubsub"}, discardLogger())
	assert.Error(t, err)
}
