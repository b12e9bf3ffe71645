// Package memory is a process-local repository.Store. It backs development
// runs (database.driver: memory) and the service tests. Data is lost when the
// process exits.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository"
)

// Store keeps users and tasks in maps guarded by one RWMutex.
// Values are copied in and out so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	users  map[string]model.User
	tasks  map[string]model.Task
	closed bool
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users: make(map[string]model.User),
		tasks: make(map[string]model.Task),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close drops all data. Every later call fails.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.users = make(map[string]model.User)
	s.tasks = make(map[string]model.Task)
	return nil
}

var errClosed = errors.New("memory: store is closed")

func now() time.Time {
	return time.Now().UTC()
}

// =========================================================================
// USERS
// =========================================================================

func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return apperror.Conflict("user", "email")
		}
		if u.Username == user.Username {
			return apperror.Conflict("user", "username")
		}
	}

	user.ID = xid.New().String()
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	if user.Level < 1 {
		user.Level = 1
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	u, ok := s.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return s.findUser(email, func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return s.findUser(username, func(u model.User) bool { return u.Username == username })
}

func (s *Store) findUser(key string, match func(model.User) bool) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (s *Store) UpdateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	stored, ok := s.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) {
			return apperror.Conflict("user", "email")
		}
		if u.Username == user.Username {
			return apperror.Conflict("user", "username")
		}
	}

	stored.Username = user.Username
	stored.Email = user.Email
	stored.PasswordHash = user.PasswordHash
	stored.UpdatedAt = now()
	user.UpdatedAt = stored.UpdatedAt
	s.users[user.ID] = stored
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, id string, level, xp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	u, ok := s.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Level = level
	u.XP = xp
	u.UpdatedAt = now()
	s.users[id] = u
	return nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]model.User, error) {
	limit = repository.ClampLeaderboardLimit(limit)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed
	}
	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// =========================================================================
// TASKS
// =========================================================================

func (s *Store) CreateTask(_ context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	task.ID = xid.New().String()
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (s *Store) GetTaskByID(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperror.NotFound("task", id)
	}
	t = cloneTask(t)
	return &t, nil
}

func (s *Store) ListTasksByOwner(_ context.Context, ownerID string, opts model.TaskListOptions) ([]model.Task, error) {
	limit := repository.ClampTaskLimit(opts.Limit)
	offset := repository.ClampOffset(opts.Offset)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed
	}
	tasks := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.UserID != ownerID {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if opts.Category != "" && t.Category != opts.Category {
			continue
		}
		tasks = append(tasks, cloneTask(t))
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})

	if offset >= len(tasks) {
		return []model.Task{}, nil
	}
	tasks = tasks[offset:]
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// UpdateTask replaces every mutable field. Owner and creation time are kept.
func (s *Store) UpdateTask(_ context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	stored, ok := s.tasks[task.ID]
	if !ok {
		return apperror.NotFound("task", task.ID)
	}
	task.UpdatedAt = now()

	updated := cloneTask(*task)
	updated.UserID = stored.UserID
	updated.CreatedAt = stored.CreatedAt
	s.tasks[task.ID] = updated
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if _, ok := s.tasks[id]; !ok {
		return apperror.NotFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}

// cloneTask copies the time pointers so stored tasks never alias caller data.
func cloneTask(t model.Task) model.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	return t
}
