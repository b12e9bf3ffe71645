package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/questlog/internal/client"
	"github.com/sakif/questlog/internal/config"
	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository/memory"
	"github.com/sakif/questlog/internal/server"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "client-test-secret-0123456789"
	cfg.Auth.BcryptCost = 4

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	srv, err := server.New(cfg, logger, store, events.NewBus(nil, "", logger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return ts
}

func ptr[T any](v T) *T { return &v }

func TestClientRoundTrip(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	c := client.New(ts.URL + "/")

	require.NoError(t, c.Health(ctx))

	auth, err := c.Register(ctx, "ada", "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "ada", auth.Username)
	assert.Equal(t, 1, auth.Level)
	require.NotEmpty(t, auth.Token)
	c.SetToken(auth.Token)

	created, err := c.CreateTask(ctx, client.NewTask{Title: "Write report", Category: "work"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, created.Task.Status)
	require.NotNil(t, created.User)
	assert.Equal(t, 10, created.User.XP)

	done := model.StatusDone
	updated, err := c.UpdateTask(ctx, created.Task.ID, client.TaskUpdate{Status: &done})
	require.NoError(t, err)
	assert.True(t, updated.Task.CompletionXPAwarded)
	require.NotNil(t, updated.User)
	assert.Equal(t, 40, updated.User.XP)

	got, err := c.GetTask(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Write report", got.Title)

	list, err := c.ListTasks(ctx, client.ListOptions{Status: model.StatusDone, Category: "work"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	profile, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, profile.XP)
	assert.Equal(t, 120, profile.XPToNextLevel)

	renamed, err := c.UpdateProfile(ctx, client.ProfileUpdate{Username: ptr("ada_l")})
	require.NoError(t, err)
	assert.Equal(t, "ada_l", renamed.Username)

	board, err := c.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 1, board[0].Rank)

	reset, err := c.ResetTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset.Reopened)

	require.NoError(t, c.DeleteTask(ctx, created.Task.ID))

	_, err = c.GetTask(ctx, created.Task.ID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)

	again, err := client.New(ts.URL).Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "ada_l", again.Username)
}

func TestClientAPIErrors(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func(c *client.Client) error
		status int
		code   string
	}{
		{
			name: "no token",
			call: func(c *client.Client) error {
				_, err := c.ListTasks(ctx, client.ListOptions{})
				return err
			},
			status: http.StatusUnauthorized,
			code:   "unauthorized",
		},
		{
			name: "bad credentials",
			call: func(c *client.Client) error {
				_, err := c.Login(ctx, "nobody@example.com", "password123")
				return err
			},
			status: http.StatusUnauthorized,
			code:   "unauthorized",
		},
		{
			name: "validation",
			call: func(c *client.Client) error {
				_, err := c.Register(ctx, "x", "not-an-email", "123")
				return err
			},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(client.New(ts.URL))
			require.Error(t, err)
			assert.True(t, client.IsAPIError(err))

			var apiErr *client.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestClientNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := client.New(ts.URL).Health(context.Background())
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad_gateway", apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestClientTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(url, client.WithHTTPClient(&http.Client{Timeout: time.Second}))
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsAPIError(err))
}

func TestWithTokenSendsBearer(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithToken("abc"))
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "Bearer abc", got)
	assert.Equal(t, "abc", c.Token())
}
