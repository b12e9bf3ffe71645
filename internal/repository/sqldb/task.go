package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository"
)

const taskColumns = `id, user_id, title, description, category, status, priority,
	xp_reward, completion_xp, completion_xp_awarded, due_date, completed_at,
	created_at, updated_at`

// CreateTask inserts a task. ID and timestamps are set on the caller's struct.
func (db *DB) CreateTask(ctx context.Context, task *model.Task) error {
	task.ID = xid.New().String()
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts

	_, err := db.exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.Category,
		string(task.Status),
		string(task.Priority),
		task.XPReward,
		task.CompletionXP,
		task.CompletionXPAwarded,
		nullTime(task.DueDate),
		nullTime(task.CompletedAt),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: creating task: %w", err)
	}
	return nil
}

// GetTaskByID returns apperror.ErrNotFound if the task does not exist.
func (db *DB) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(db.queryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("sqldb: getting task %s: %w", id, err)
	}
	return t, nil
}

// ListTasksByOwner returns the owner's tasks, newest first, filtered by the
// non-zero fields of opts.
func (db *DB) ListTasksByOwner(ctx context.Context, ownerID string, opts model.TaskListOptions) ([]model.Task, error) {
	limit := repository.ClampTaskLimit(opts.Limit)
	offset := repository.ClampOffset(opts.Offset)

	where := []string{"user_id = ?"}
	args := []any{ownerID}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Category != "" {
		where = append(where, "category = ?")
		args = append(args, opts.Category)
	}
	args = append(args, limit, offset)

	rows, err := db.query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing tasks of %s: %w", ownerID, err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning task row: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask writes every mutable column. Owner and creation time are fixed.
func (db *DB) UpdateTask(ctx context.Context, task *model.Task) error {
	task.UpdatedAt = now()

	result, err := db.exec(ctx,
		`UPDATE tasks SET title = ?, description = ?, category = ?, status = ?,
		   priority = ?, xp_reward = ?, completion_xp = ?, completion_xp_awarded = ?,
		   due_date = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		task.Title,
		task.Description,
		task.Category,
		string(task.Status),
		string(task.Priority),
		task.XPReward,
		task.CompletionXP,
		task.CompletionXPAwarded,
		nullTime(task.DueDate),
		nullTime(task.CompletedAt),
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating task %s: %w", task.ID, err)
	}
	return expectOneRow(result, "task", task.ID)
}

// DeleteTask removes a task. Deleting a missing task is NotFound.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	result, err := db.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqldb: deleting task %s: %w", id, err)
	}
	return expectOneRow(result, "task", id)
}

func scanTask(s scanner) (*model.Task, error) {
	var (
		t                    model.Task
		status, priority     string
		dueDate, completedAt sql.NullTime
	)
	err := s.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Category,
		&status,
		&priority,
		&t.XPReward,
		&t.CompletionXP,
		&t.CompletionXPAwarded,
		&dueDate,
		&completedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.TaskPriority(priority)
	t.DueDate = timePtr(dueDate)
	t.CompletedAt = timePtr(completedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
