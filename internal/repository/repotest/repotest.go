// Package repotest is a conformance suite shared by every repository.Store
// implementation. Each backend's tests call Run with a factory that returns
// an empty, migrated store.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) repository.Store

// timeTolerance covers backends that store milliseconds (MongoDB).
const timeTolerance = time.Millisecond

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { runUserTests(t, newStore) })
	t.Run("Tasks", func(t *testing.T) { runTaskTests(t, newStore) })
	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, newStore(t).Ping(context.Background()))
	})
}

// CreateUser is a helper that inserts a user named name with a derived email.
func CreateUser(t *testing.T, store repository.Store, name string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "$2a$04$hash-for-" + name,
		Level:        1,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

// CreateTask inserts an open task owned by ownerID.
func CreateTask(t *testing.T, store repository.Store, ownerID, title, category string) *model.Task {
	t.Helper()
	task := &model.Task{
		UserID:       ownerID,
		Title:        title,
		Category:     category,
		Status:       model.StatusOpen,
		Priority:     model.PriorityMedium,
		XPReward:     10,
		CompletionXP: 30,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

// =========================================================================
// USER TESTS
// =========================================================================

func runUserTests(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create fills id and timestamps", func(t *testing.T) {
		store := newStore(t)
		u := CreateUser(t, store, "alice")

		assert.NotEmpty(t, u.ID)
		assert.False(t, u.CreatedAt.IsZero())
		assert.False(t, u.UpdatedAt.IsZero())
		assert.Equal(t, 1, u.Level)
		assert.Equal(t, 0, u.XP)
	})

	t.Run("lookups by id email and username", func(t *testing.T) {
		store := newStore(t)
		u := CreateUser(t, store, "alice")

		byID, err := store.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assertSameUser(t, u, byID)

		byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byName, err := store.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetUserByID(ctx, "nope")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
		_, err = store.GetUserByEmail(ctx, "nobody@example.com")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
		_, err = store.GetUserByUsername(ctx, "nobody")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		store := newStore(t)
		CreateUser(t, store, "alice")

		err := store.CreateUser(ctx, &model.User{
			Username: "alice2", Email: "alice@example.com", PasswordHash: "x", Level: 1,
		})
		assertConflict(t, err, "email")
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		store := newStore(t)
		CreateUser(t, store, "alice")

		err := store.CreateUser(ctx, &model.User{
			Username: "alice", Email: "other@example.com", PasswordHash: "x", Level: 1,
		})
		assertConflict(t, err, "username")
	})

	t.Run("update account fields", func(t *testing.T) {
		store := newStore(t)
		u := CreateUser(t, store, "alice")

		u.Username = "alicia"
		u.Email = "alicia@example.com"
		u.PasswordHash = "new-hash"
		require.NoError(t, store.UpdateUser(ctx, u))

		got, err := store.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "alicia", got.Username)
		assert.Equal(t, "alicia@example.com", got.Email)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.Equal(t, 1, got.Level)
	})

	t.Run("update into a taken email conflicts", func(t *testing.T) {
		store := newStore(t)
		CreateUser(t, store, "alice")
		bob := CreateUser(t, store, "bob")

		bob.Email = "alice@example.com"
		assertConflict(t, store.UpdateUser(ctx, bob), "email")
	})

	t.Run("update missing user is not found", func(t *testing.T) {
		store := newStore(t)
		err := store.UpdateUser(ctx, &model.User{ID: "ghost", Username: "g", Email: "g@example.com"})
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("update progress", func(t *testing.T) {
		store := newStore(t)
		u := CreateUser(t, store, "alice")

		require.NoError(t, store.UpdateProgress(ctx, u.ID, 4, 77))

		got, err := store.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Level)
		assert.Equal(t, 77, got.XP)

		err = store.UpdateProgress(ctx, "ghost", 2, 0)
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("leaderboard orders by level then xp", func(t *testing.T) {
		store := newStore(t)
		a := CreateUser(t, store, "low")
		b := CreateUser(t, store, "mid")
		c := CreateUser(t, store, "top")
		require.NoError(t, store.UpdateProgress(ctx, a.ID, 1, 10))
		require.NoError(t, store.UpdateProgress(ctx, b.ID, 3, 5))
		require.NoError(t, store.UpdateProgress(ctx, c.ID, 3, 50))

		got, err := store.Leaderboard(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"top", "mid", "low"}, usernames(got))

		got, err = store.Leaderboard(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"top", "mid"}, usernames(got))
	})
}

// =========================================================================
// TASK TESTS
// =========================================================================

func runTaskTests(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		store := newStore(t)
		owner := CreateUser(t, store, "alice")

		due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		task := &model.Task{
			UserID:       owner.ID,
			Title:        "Write report",
			Description:  "quarterly",
			Category:     "work",
			Status:       model.StatusOpen,
			Priority:     model.PriorityHigh,
			XPReward:     15,
			CompletionXP: 40,
			DueDate:      &due,
		}
		require.NoError(t, store.CreateTask(ctx, task))
		assert.NotEmpty(t, task.ID)
		assert.False(t, task.CreatedAt.IsZero())

		got, err := store.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, got.UserID)
		assert.Equal(t, "Write report", got.Title)
		assert.Equal(t, "quarterly", got.Description)
		assert.Equal(t, "work", got.Category)
		assert.Equal(t, model.StatusOpen, got.Status)
		assert.Equal(t, model.PriorityHigh, got.Priority)
		assert.Equal(t, 15, got.XPReward)
		assert.Equal(t, 40, got.CompletionXP)
		assert.False(t, got.CompletionXPAwarded)
		require.NotNil(t, got.DueDate)
		assert.True(t, due.Equal(*got.DueDate), "due date %v", got.DueDate)
		assert.Nil(t, got.CompletedAt)
		assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, timeTolerance)
	})

	t.Run("missing task is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetTaskByID(ctx, "nope")
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("list is newest first and scoped to owner", func(t *testing.T) {
		store := newStore(t)
		alice := CreateUser(t, store, "alice")
		bob := CreateUser(t, store, "bob")

		var want []string
		for i := 0; i < 3; i++ {
			task := CreateTask(t, store, alice.ID, fmt.Sprintf("task %d", i), "")
			want = append([]string{task.ID}, want...)
			time.Sleep(2 * time.Millisecond)
		}
		CreateTask(t, store, bob.ID, "not alice's", "")

		got, err := store.ListTasksByOwner(ctx, alice.ID, model.TaskListOptions{})
		require.NoError(t, err)
		assert.Equal(t, want, taskIDs(got))
	})

	t.Run("list of a user without tasks is empty", func(t *testing.T) {
		store := newStore(t)
		alice := CreateUser(t, store, "alice")

		got, err := store.ListTasksByOwner(ctx, alice.ID, model.TaskListOptions{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		store := newStore(t)
		alice := CreateUser(t, store, "alice")

		work1 := CreateTask(t, store, alice.ID, "w1", "work")
		time.Sleep(2 * time.Millisecond)
		CreateTask(t, store, alice.ID, "h1", "home")
		time.Sleep(2 * time.Millisecond)
		work2 := CreateTask(t, store, alice.ID, "w2", "work")

		work1.Status = model.StatusDone
		require.NoError(t, store.UpdateTask(ctx, work1))

		got, err := store.ListTasksByOwner(ctx, alice.ID, model.TaskListOptions{Category: "work"})
		require.NoError(t, err)
		assert.Equal(t, []string{work2.ID, work1.ID}, taskIDs(got))

		got, err = store.ListTasksByOwner(ctx, alice.ID, model.TaskListOptions{Status: model.StatusDone})
		require.NoError(t, err)
		assert.Equal(t, []string{work1.ID}, taskIDs(got))

		got, err = store.ListTasksByOwner(ctx, alice.ID, model.TaskListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "h1", got[0].Title)
	})

	t.Run("update persists state machine fields", func(t *testing.T) {
		store := newStore(t)
		alice := CreateUser(t, store, "alice")
		task := CreateTask(t, store, alice.ID, "t", "")

		done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		task.Title = "renamed"
		task.Status = model.StatusDone
		task.CompletionXPAwarded = true
		task.CompletedAt = &done
		require.NoError(t, store.UpdateTask(ctx, task))

		got, err := store.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)
		assert.Equal(t, model.StatusDone, got.Status)
		assert.True(t, got.CompletionXPAwarded)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))

		task.Status = model.StatusOpen
		task.CompletedAt = nil
		require.NoError(t, store.UpdateTask(ctx, task))

		got, err = store.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CompletedAt)
		assert.True(t, got.CompletionXPAwarded)
	})

	t.Run("update missing task is not found", func(t *testing.T) {
		store := newStore(t)
		err := store.UpdateTask(ctx, &model.Task{ID: "ghost", Title: "x", Status: model.StatusOpen})
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		alice := CreateUser(t, store, "alice")
		task := CreateTask(t, store, alice.ID, "t", "")

		require.NoError(t, store.DeleteTask(ctx, task.ID))

		_, err := store.GetTaskByID(ctx, task.ID)
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)

		err = store.DeleteTask(ctx, task.ID)
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "second delete: got %v", err)
	})
}

func assertSameUser(t *testing.T, want, got *model.User) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Username, got.Username)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.PasswordHash, got.PasswordHash)
	assert.Equal(t, want.Level, got.Level)
	assert.Equal(t, want.XP, got.XP)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, timeTolerance)
}

func assertConflict(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, field, appErr.Field)
}

func usernames(users []model.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}

func taskIDs(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
