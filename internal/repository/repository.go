// Package repository declares the persistence contracts used by the services.
//
// Every backend (sqldb, mongodb, memory) implements Store. Implementations
// return apperror.NotFound for missing records and apperror.Conflict when a
// unique username or email is taken; anything else is a wrapped storage error.
package repository

import (
	"context"

	"github.com/sakif/questlog/internal/model"
)

const (
	// DefaultTaskLimit is used when a listing asks for no explicit limit.
	DefaultTaskLimit = 50
	// MaxTaskLimit caps a single task listing page.
	MaxTaskLimit = 500

	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// UserRepository persists users and their progression.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	// UpdateUser writes username, email and password hash.
	UpdateUser(ctx context.Context, user *model.User) error
	// UpdateProgress overwrites level and xp. It is the only write path for
	// progression.
	UpdateProgress(ctx context.Context, id string, level, xp int) error
	// Leaderboard returns users ordered by level desc, xp desc, then
	// registration order.
	Leaderboard(ctx context.Context, limit int) ([]model.User, error)
}

// TaskRepository persists tasks.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	// ListTasksByOwner returns the owner's tasks newest first.
	ListTasksByOwner(ctx context.Context, ownerID string, opts model.TaskListOptions) ([]model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// Store is a complete backend.
type Store interface {
	UserRepository
	TaskRepository
	Ping(ctx context.Context) error
	Close() error
}

// ClampTaskLimit applies the default and maximum page size.
func ClampTaskLimit(limit int) int {
	if limit <= 0 {
		return DefaultTaskLimit
	}
	if limit > MaxTaskLimit {
		return MaxTaskLimit
	}
	return limit
}

// ClampLeaderboardLimit applies the default and maximum leaderboard size.
func ClampLeaderboardLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}

// ClampOffset turns negative offsets into zero.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
