package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sakif/questlog/internal/auth"
	"github.com/sakif/questlog/internal/config"
	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/repository/memory"
	"github.com/sakif/questlog/internal/server"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "server-test-secret-0123456789"
	cfg.Auth.BcryptCost = 4
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *events.Memory) {
	t.Helper()
	store := memory.New()
	mem := events.NewMemory()
	bus := events.NewBus(mem, "", discardLogger())

	srv, err := server.New(testConfig(), discardLogger(), store, bus)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = bus.Close()
		_ = store.Close()
	})
	return ts, mem
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	} else if len(raw) > 0 && raw[0] == '[' {
		var list []any
		require.NoError(c.t, json.Unmarshal(raw, &list))
		out = map[string]any{"items": list}
	}
	return resp.StatusCode, out
}

func (c *apiClient) register(name string) string {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/users/register", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "password123",
	})
	require.Equal(c.t, http.StatusCreated, status, body)
	return body["token"].(string)
}

func TestBearerFailuresExplainThemselves(t *testing.T) {
	ts, _ := newTestServer(t)
	anon := &apiClient{t: t, base: ts.URL}
	ada := &apiClient{t: t, base: ts.URL, token: anon.register("ada")}

	status, body := ada.do(http.MethodGet, "/api/users/profile", nil)
	require.Equal(t, http.StatusOK, status, body)
	id := body["id"].(string)

	tokens, err := auth.NewTokenService(testConfig().Auth.JWTSecret, time.Hour)
	require.NoError(t, err)
	expired, err := tokens.GenerateWithDuration(id, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantMsg string
	}{
		{"missing", "", "valid authentication required"},
		{"expired", expired, "token expired"},
		{"forged", "forged.token.value", "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &apiClient{t: t, base: ts.URL, token: tt.token}
			status, body := c.do(http.MethodGet, "/api/tasks", nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "unauthorized", body["error"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestFullFlow(t *testing.T) {
	ts, mem := newTestServer(t)
	anon := &apiClient{t: t, base: ts.URL}

	status, body := anon.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	ada := &apiClient{t: t, base: ts.URL, token: anon.register("ada")}
	grace := &apiClient{t: t, base: ts.URL, token: anon.register("grace")}

	// Task routes require a token.
	status, body = anon.do(http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = (&apiClient{t: t, base: ts.URL, token: "forged.token.value"}).do(http.MethodGet, "/api/users/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = ada.do(http.MethodPost, "/api/tasks", map[string]any{"title": "Write report", "category": "work"})
	require.Equal(t, http.StatusCreated, status, body)
	taskID := body["task"].(map[string]any)["id"].(string)
	assert.Equal(t, float64(10), body["user"].(map[string]any)["xp"])

	status, body = ada.do(http.MethodPut, "/api/tasks/"+taskID, map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(40), body["user"].(map[string]any)["xp"])

	// Completing twice never grants twice.
	status, body = ada.do(http.MethodPut, "/api/tasks/"+taskID, map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["user"])

	status, body = grace.do(http.MethodGet, "/api/tasks/"+taskID, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, body = ada.do(http.MethodGet, "/api/tasks/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["completed"])

	status, body = ada.do(http.MethodGet, "/api/tasks?status=done", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)

	status, body = anon.do(http.MethodGet, "/api/users/leaderboard", nil)
	require.Equal(t, http.StatusOK, status)
	board := body["items"].([]any)
	require.Len(t, board, 2)
	assert.Equal(t, "ada", board[0].(map[string]any)["username"])

	status, body = ada.do(http.MethodGet, "/api/users/profile", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(40), body["xp"])
	assert.Equal(t, float64(120), body["xpToNextLevel"])

	status, body = ada.do(http.MethodPost, "/api/tasks/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["reopened"])

	status, body = ada.do(http.MethodDelete, "/api/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "task removed", body["message"])

	status, _ = ada.do(http.MethodGet, "/api/tasks/"+taskID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = anon.do(http.MethodPost, "/api/users/login", map[string]string{"email": "ada@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	var types []string
	for _, m := range mem.Messages() {
		types = append(types, m.Attributes["type"])
	}
	assert.Equal(t, []string{"task.created", "task.completed", "task.reopened"}, types)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"
	_, err := server.New(cfg, discardLogger(), memory.New(), events.NewBus(nil, "", discardLogger()))
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Progression.ReopenPolicy = "refund"
	_, err = server.New(cfg, discardLogger(), memory.New(), events.NewBus(nil, "", discardLogger()))
	assert.Error(t, err)
}

func TestServeShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := memory.New()
	defer store.Close()
	srv, err := server.New(testConfig(), discardLogger(), store, events.NewBus(nil, "", discardLogger()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	transport := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	transport.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
