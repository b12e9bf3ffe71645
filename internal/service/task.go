package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/progression"
	"github.com/sakif/questlog/internal/repository"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxCategoryLength    = 50
	MaxXP                = 1000

	DefaultXPReward     = 10
	DefaultCompletionXP = 30
)

// TaskService owns the task lifecycle and the XP it grants.
//
// Task writes and progression writes are two separate store calls. The
// task is saved first, so a failure in between leaves the task updated and
// the XP unchanged; the error is returned to the caller.
type TaskService struct {
	tasks     repository.TaskRepository
	users     repository.UserRepository
	policy    progression.Policy
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewTaskService(
	tasks repository.TaskRepository,
	users repository.UserRepository,
	policy progression.Policy,
	publisher events.Publisher,
	logger *slog.Logger,
) *TaskService {
	if policy.Curve == nil {
		policy.Curve = progression.DefaultCurve()
	}
	if policy.Reopen == "" {
		policy.Reopen = progression.ReopenKeep
	}
	return &TaskService{
		tasks:     tasks,
		users:     users,
		policy:    policy,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTaskInput is the payload of a new task. Nil XP values take the
// defaults.
type CreateTaskInput struct {
	Title        string
	Description  string
	Category     string
	Priority     string
	XPReward     *int
	CompletionXP *int
	DueDate      *time.Time
}

// UpdateTaskInput is a partial update; nil fields are left alone.
type UpdateTaskInput struct {
	Title        *string
	Description  *string
	Category     *string
	Priority     *string
	Status       *string
	XPReward     *int
	CompletionXP *int
	DueDate      *time.Time
	ClearDueDate bool
}

// TaskResult is a task together with the owner's progression. User is nil
// when the operation did not change XP.
type TaskResult struct {
	Task *model.Task     `json:"task"`
	User *model.Progress `json:"user"`
}

// ResetResult reports how many done tasks were reopened.
type ResetResult struct {
	Reopened int            `json:"reopened"`
	User     model.Progress `json:"user"`
}

// Create saves a new open task for ownerID. When the policy awards XP on
// creation the task's xpReward is granted immediately.
func (s *TaskService) Create(ctx context.Context, ownerID string, in CreateTaskInput) (*TaskResult, error) {
	task := &model.Task{
		UserID:       ownerID,
		Status:       model.StatusOpen,
		XPReward:     DefaultXPReward,
		CompletionXP: DefaultCompletionXP,
		DueDate:      in.DueDate,
	}

	title := strings.TrimSpace(in.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	task.Title = title
	if err := setText(&task.Description, in.Description, "description", MaxDescriptionLength); err != nil {
		return nil, err
	}
	if err := setText(&task.Category, in.Category, "category", MaxCategoryLength); err != nil {
		return nil, err
	}
	priority, err := model.ParseTaskPriority(in.Priority)
	if err != nil {
		return nil, apperror.ValidationFailed("priority", "priority must be low, medium or high")
	}
	task.Priority = priority
	if in.XPReward != nil {
		if err := validateXP("xpReward", *in.XPReward); err != nil {
			return nil, err
		}
		task.XPReward = *in.XPReward
	}
	if in.CompletionXP != nil {
		if err := validateXP("completionXp", *in.CompletionXP); err != nil {
			return nil, err
		}
		task.CompletionXP = *in.CompletionXP
	}

	// The owner must exist before the task does.
	owner, err := s.users.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.CreateTask(ctx, task); err != nil {
		s.logger.Error("failed to create task",
			slog.String("user_id", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/task: creating task: %w", err)
	}
	s.logger.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("user_id", ownerID),
	)

	delta := 0
	if s.policy.AwardOnCreate {
		delta = task.XPReward
	}
	owner, err = s.grant(ctx, owner, delta, task.ID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.TaskCreated, owner, task.ID, delta)
	progress := owner.Progress()
	return &TaskResult{Task: task, User: &progress}, nil
}

// List returns the owner's tasks, newest first.
func (s *TaskService) List(ctx context.Context, ownerID string, status, category string, limit, offset int) ([]model.Task, error) {
	opts := model.TaskListOptions{
		Category: strings.TrimSpace(category),
		Limit:    repository.ClampTaskLimit(limit),
		Offset:   repository.ClampOffset(offset),
	}
	if strings.TrimSpace(status) != "" {
		st, err := model.ParseTaskStatus(status)
		if err != nil {
			return nil, apperror.ValidationFailed("status", "status must be open, in-progress or done")
		}
		opts.Status = st
	}

	tasks, err := s.tasks.ListTasksByOwner(ctx, ownerID, opts)
	if err != nil {
		s.logger.Error("failed to list tasks",
			slog.String("user_id", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/task: listing tasks: %w", err)
	}
	return tasks, nil
}

// Get returns a task the caller owns. Someone else's task is
// apperror.ErrForbidden.
func (s *TaskService) Get(ctx context.Context, callerID, taskID string) (*model.Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, apperror.ValidationFailed("id", "task ID is required")
	}

	task, err := s.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != callerID {
		s.logger.Warn("task access denied",
			slog.String("task_id", taskID),
			slog.String("user_id", callerID),
		)
		return nil, apperror.Forbidden("not authorized to access this task")
	}
	return task, nil
}

// Update applies a partial update and runs the completion state machine
// (model.Task.Transition) when the status changes.
func (s *TaskService) Update(ctx context.Context, callerID, taskID string, in UpdateTaskInput) (*TaskResult, error) {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		task.Title = title
	}
	if in.Description != nil {
		if err := setText(&task.Description, *in.Description, "description", MaxDescriptionLength); err != nil {
			return nil, err
		}
	}
	if in.Category != nil {
		if err := setText(&task.Category, *in.Category, "category", MaxCategoryLength); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		p, err := model.ParseTaskPriority(*in.Priority)
		if err != nil {
			return nil, apperror.ValidationFailed("priority", "priority must be low, medium or high")
		}
		task.Priority = p
	}
	if in.XPReward != nil {
		if err := validateXP("xpReward", *in.XPReward); err != nil {
			return nil, err
		}
		task.XPReward = *in.XPReward
	}
	if in.CompletionXP != nil && *in.CompletionXP != task.CompletionXP {
		if err := validateXP("completionXp", *in.CompletionXP); err != nil {
			return nil, err
		}
		// The credited amount is what a clawback takes back, so it is frozen
		// while credited.
		if task.CompletionXPAwarded {
			return nil, apperror.ValidationFailed("completionXp", "completionXp cannot change while its XP is credited")
		}
		task.CompletionXP = *in.CompletionXP
	}
	if in.ClearDueDate {
		task.DueDate = nil
	} else if in.DueDate != nil {
		task.DueDate = in.DueDate
	}

	var (
		delta     int
		eventType events.Type
	)
	if in.Status != nil {
		next, err := model.ParseTaskStatus(*in.Status)
		if err != nil {
			return nil, apperror.ValidationFailed("status", "status must be open, in-progress or done")
		}
		delta, eventType = s.transition(task, next)
	}

	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to update task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/task: updating task %s: %w", task.ID, err)
	}

	result := &TaskResult{Task: task}
	if delta != 0 {
		owner, err := s.users.GetUserByID(ctx, task.UserID)
		if err != nil {
			return nil, err
		}
		if owner, err = s.grant(ctx, owner, delta, task.ID); err != nil {
			return nil, err
		}
		progress := owner.Progress()
		result.User = &progress
		s.emit(ctx, eventType, owner, task.ID, delta)
	} else if eventType != "" {
		s.emitUnchanged(ctx, eventType, task)
	}

	return result, nil
}

// transition runs the state machine and names the event it produced.
// eventType is empty when the status did not cross the done boundary.
func (s *TaskService) transition(task *model.Task, next model.TaskStatus) (delta int, eventType events.Type) {
	wasDone := task.IsDone()
	delta = task.Transition(next, s.policy.Reopen, s.now())

	switch {
	case !wasDone && task.IsDone():
		return delta, events.TaskCompleted
	case wasDone && !task.IsDone():
		return delta, events.TaskReopened
	}
	return delta, ""
}

// Delete removes a task the caller owns. XP already granted for it stays.
func (s *TaskService) Delete(ctx context.Context, callerID, taskID string) error {
	task, err := s.Get(ctx, callerID, taskID)
	if err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	s.logger.Info("task deleted",
		slog.String("task_id", task.ID),
		slog.String("user_id", callerID),
	)
	return nil
}

// Reset reopens every done task of the caller, applying the reopen policy
// to each. Each task's clawback is persisted right after the task itself,
// so a failure part way leaves the user matching the tasks already reopened.
func (s *TaskService) Reset(ctx context.Context, callerID string) (*ResetResult, error) {
	owner, err := s.users.GetUserByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	reopened, delta := 0, 0
	for {
		// Reopened tasks drop out of the done filter, so the first page is
		// always the next batch.
		batch, err := s.tasks.ListTasksByOwner(ctx, callerID, model.TaskListOptions{
			Status: model.StatusDone,
			Limit:  repository.MaxTaskLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("service/task: listing done tasks: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			task := &batch[i]
			d, _ := s.transition(task, model.StatusOpen)
			if err := s.tasks.UpdateTask(ctx, task); err != nil {
				return nil, fmt.Errorf("service/task: reopening task %s: %w", task.ID, err)
			}
			s.emitUnchanged(ctx, events.TaskReopened, task)
			if d != 0 {
				if owner, err = s.grant(ctx, owner, d, task.ID); err != nil {
					return nil, err
				}
			}
			delta += d
			reopened++
		}
	}

	if owner, err = s.grant(ctx, owner, 0, ""); err != nil {
		return nil, err
	}
	s.logger.Info("daily tasks reset",
		slog.String("user_id", callerID),
		slog.Int("reopened", reopened),
		slog.Int("xp_delta", delta),
	)
	return &ResetResult{Reopened: reopened, User: owner.Progress()}, nil
}

// Stats summarises all of the caller's tasks. Points earned is the xpReward
// of every done task.
func (s *TaskService) Stats(ctx context.Context, callerID string) (*model.TaskStats, error) {
	stats := &model.TaskStats{Categories: []model.CategoryStats{}}
	byCategory := make(map[string]*model.CategoryStats)

	for offset := 0; ; offset += repository.MaxTaskLimit {
		page, err := s.tasks.ListTasksByOwner(ctx, callerID, model.TaskListOptions{
			Limit:  repository.MaxTaskLimit,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("service/task: loading stats: %w", err)
		}

		for _, t := range page {
			stats.Total++
			cat, ok := byCategory[t.Category]
			if !ok {
				cat = &model.CategoryStats{Category: t.Category}
				byCategory[t.Category] = cat
			}
			cat.Total++

			switch t.Status {
			case model.StatusDone:
				stats.Completed++
				stats.PointsEarned += t.XPReward
				cat.Completed++
			case model.StatusInProgress:
				stats.InProgress++
			default:
				stats.Open++
			}
		}
		if len(page) < repository.MaxTaskLimit {
			break
		}
	}

	stats.Progress = model.PercentOf(stats.Completed, stats.Total)
	for _, c := range byCategory {
		c.Progress = model.PercentOf(c.Completed, c.Total)
		stats.Categories = append(stats.Categories, *c)
	}
	sort.Slice(stats.Categories, func(i, j int) bool {
		return stats.Categories[i].Category < stats.Categories[j].Category
	})
	return stats, nil
}

// grant applies delta to the owner (positive grants, negative revokes),
// persists the new progression and announces level-ups. A zero delta only
// settles the owner on the curve.
//
// UpdateProgress stores the absolute state computed from this snapshot, so
// two grants racing for the same user resolve as last write wins.
func (s *TaskService) grant(ctx context.Context, owner *model.User, delta int, taskID string) (*model.User, error) {
	owner, err := settle(ctx, s.users, s.policy.Curve, owner)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return owner, nil
	}

	state := progression.State{Level: owner.Level, XP: owner.XP}
	var r progression.Result
	if delta > 0 {
		r = progression.Apply(s.policy.Curve, state, delta)
	} else {
		r = progression.Revoke(s.policy.Curve, state, -delta)
	}

	if err := s.users.UpdateProgress(ctx, owner.ID, r.Level, r.XP); err != nil {
		s.logger.Error("failed to update progress",
			slog.String("user_id", owner.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/task: updating progress for %s: %w", owner.ID, err)
	}
	owner.Level, owner.XP, owner.XPToNextLevel = r.Level, r.XP, r.Threshold

	if r.LevelsGained > 0 {
		s.logger.Info("user leveled up",
			slog.String("user_id", owner.ID),
			slog.Int("level", r.Level),
			slog.Int("levels_gained", r.LevelsGained),
		)
		s.emit(ctx, events.UserLeveledUp, owner, taskID, delta)
	}
	return owner, nil
}

func (s *TaskService) emit(ctx context.Context, t events.Type, owner *model.User, taskID string, delta int) {
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       t,
		UserID:     owner.ID,
		TaskID:     taskID,
		Level:      owner.Level,
		XP:         owner.XP,
		Delta:      delta,
		OccurredAt: s.now(),
	})
}

// emitUnchanged publishes an event for a transition that moved no XP. The
// user's level is not loaded for it.
func (s *TaskService) emitUnchanged(ctx context.Context, t events.Type, task *model.Task) {
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       t,
		UserID:     task.UserID,
		TaskID:     task.ID,
		OccurredAt: s.now(),
	})
}

func validateTitle(title string) error {
	if title == "" {
		return apperror.ValidationFailed("title", "task title is required")
	}
	if len([]rune(title)) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("task title must be %d characters or less", MaxTitleLength))
	}
	return nil
}

func setText(dst *string, value, field string, max int) error {
	value = strings.TrimSpace(value)
	if len([]rune(value)) > max {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, max))
	}
	*dst = value
	return nil
}

func validateXP(field string, v int) error {
	if v < 0 || v > MaxXP {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be between 0 and %d", field, MaxXP))
	}
	return nil
}
