package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/sakif/questlog/internal/progression"
)

// TaskStatus is the position of a task in the completion state machine.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in-progress"
	StatusDone       TaskStatus = "done"
)

// ParseTaskStatus normalises a status from client input. The legacy
// spelling "completed" is accepted for done.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "pending", "todo":
		return StatusOpen, nil
	case "in-progress", "in_progress", "inprogress":
		return StatusInProgress, nil
	case "done", "completed", "complete":
		return StatusDone, nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// TaskPriority is an informational ranking chosen by the owner.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// ParseTaskPriority accepts low, medium or high. An empty string is medium.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch p := TaskPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	case "":
		return PriorityMedium, nil
	default:
		return "", fmt.Errorf("unknown task priority %q", s)
	}
}

// Task is a unit of work owned by exactly one user.
//
// CompletionXP is granted when the task reaches done. CompletionXPAwarded
// records that the grant is currently credited to the owner.
type Task struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"userId"`
	Title               string       `json:"title"`
	Description         string       `json:"description"`
	Category            string       `json:"category"`
	Status              TaskStatus   `json:"status"`
	Priority            TaskPriority `json:"priority"`
	XPReward            int          `json:"xpReward"`
	CompletionXP        int          `json:"completionXp"`
	CompletionXPAwarded bool         `json:"completionXpAwarded"`
	DueDate             *time.Time   `json:"dueDate,omitempty"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// IsDone reports whether the task is in the done state.
func (t *Task) IsDone() bool {
	return t.Status == StatusDone
}

// Transition moves the task to next and returns the XP delta the owner
// should receive (negative for a clawback).
//
//	open|in-progress → done   completionXp, once per credit; stamps completedAt
//	done → done               nothing
//	done → open|in-progress   clears completedAt; under clawback revokes the credit
//	open ↔ in-progress        nothing
func (t *Task) Transition(next TaskStatus, reopen progression.ReopenPolicy, now time.Time) int {
	wasDone := t.IsDone()
	t.Status = next

	switch {
	case !wasDone && next == StatusDone:
		t.CompletedAt = &now
		if !t.CompletionXPAwarded {
			t.CompletionXPAwarded = true
			return t.CompletionXP
		}
	case wasDone && next != StatusDone:
		t.CompletedAt = nil
		if reopen == progression.ReopenClawback && t.CompletionXPAwarded {
			t.CompletionXPAwarded = false
			return -t.CompletionXP
		}
	}
	return 0
}

// TaskListOptions filters and pages a task listing. Zero values mean
// "no filter".
type TaskListOptions struct {
	Status   TaskStatus
	Category string
	Limit    int
	Offset   int
}

// TaskStats summarises a user's tasks for the dashboard.
type TaskStats struct {
	Total        int             `json:"total"`
	Completed    int             `json:"completed"`
	InProgress   int             `json:"inProgress"`
	Open         int             `json:"open"`
	Progress     int             `json:"progress"`
	PointsEarned int             `json:"pointsEarned"`
	Categories   []CategoryStats `json:"categories"`
}

// CategoryStats is one row of the per-category breakdown.
type CategoryStats struct {
	Category  string `json:"category"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Progress  int    `json:"progress"`
}

// PercentOf returns part/total as a whole percentage, 0 when total is 0.
func PercentOf(part, total int) int {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}
