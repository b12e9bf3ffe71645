package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/questlog/internal/auth"
	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/progression"
	"github.com/sakif/questlog/internal/repository/memory"
)

const testSecret = "service-test-secret-0123456789"

type fixture struct {
	store *memory.Store
	bus   *events.Memory
	users *UserService
	tasks *TaskService
}

func newFixture(t *testing.T, policy progression.Policy) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	store := memory.New()
	bus := events.NewMemory()
	t.Cleanup(func() {
		_ = bus.Close()
		_ = store.Close()
	})

	return &fixture{
		store: store,
		bus:   bus,
		users: NewUserService(store, tokens, auth.NewPasswordServiceForTest(), policy.Curve, logger),
		tasks: NewTaskService(store, store, policy, events.NewBus(bus, "", logger), logger),
	}
}

// register creates a user through the service and returns it.
func (f *fixture) register(t *testing.T, name string) *model.User {
	t.Helper()
	res, err := f.users.Register(context.Background(), RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	return res.User
}

func (f *fixture) eventTypes() []events.Type {
	var types []events.Type
	for _, m := range f.bus.Messages() {
		types = append(types, events.Type(m.Attributes["type"]))
	}
	return types
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("broker down")
}

func ptr[T any](v T) *T {
	return &v
}
