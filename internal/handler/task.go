package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/auth"
	"github.com/sakif/questlog/internal/service"
)

// TaskHandler serves the caller's tasks. Every route sits behind
// auth.RequireAuth, so a user id is always in the context.
type TaskHandler struct {
	tasks  *service.TaskService
	logger *slog.Logger
}

func NewTaskHandler(tasks *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

type createTaskRequest struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	Priority     string  `json:"priority"`
	XPReward     *int    `json:"xpReward"`
	CompletionXP *int    `json:"completionXp"`
	DueDate      *string `json:"dueDate"`
}

// updateTaskRequest keeps dueDate raw so that an explicit null (clear the
// date) can be told apart from an absent field (leave it).
type updateTaskRequest struct {
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Category     *string         `json:"category"`
	Priority     *string         `json:"priority"`
	Status       *string         `json:"status"`
	XPReward     *int            `json:"xpReward"`
	CompletionXP *int            `json:"completionXp"`
	DueDate      json.RawMessage `json:"dueDate"`
}

// HandleCreate adds a task and reports the owner's progression.
//
// HTTP: POST /api/tasks → 201 {"task": {...}, "user": {"level","xp","xpToNextLevel"}}
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	in := service.CreateTaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Priority:     req.Priority,
		XPReward:     req.XPReward,
		CompletionXP: req.CompletionXP,
	}
	if req.DueDate != nil && *req.DueDate != "" {
		due, err := parseDueDate(*req.DueDate)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		in.DueDate = &due
	}

	res, err := h.tasks.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleList returns the caller's tasks, newest first.
//
// HTTP: GET /api/tasks?status=done&category=work&limit=50&offset=0
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	tasks, err := h.tasks.List(r.Context(), userID, q.Get("status"), q.Get("category"), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleGet returns one task the caller owns.
//
// HTTP: GET /api/tasks/{id}
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HandleUpdate applies a partial update. "user" in the response is null
// unless XP changed.
//
// HTTP: PUT /api/tasks/{id}
func (h *TaskHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	in := service.UpdateTaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Priority:     req.Priority,
		Status:       req.Status,
		XPReward:     req.XPReward,
		CompletionXP: req.CompletionXP,
	}
	if len(req.DueDate) > 0 {
		if bytes.Equal(req.DueDate, []byte("null")) {
			in.ClearDueDate = true
		} else {
			var raw string
			if err := json.Unmarshal(req.DueDate, &raw); err != nil {
				writeError(w, h.logger, apperror.ValidationFailed("dueDate", "dueDate must be a date string or null"))
				return
			}
			if raw == "" {
				in.ClearDueDate = true
			} else {
				due, err := parseDueDate(raw)
				if err != nil {
					writeError(w, h.logger, err)
					return
				}
				in.DueDate = &due
			}
		}
	}

	res, err := h.tasks.Update(r.Context(), userID, r.PathValue("id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleDelete removes a task.
//
// HTTP: DELETE /api/tasks/{id} → {"message": "task removed"}
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "task removed"})
}

// HandleReset reopens all done tasks.
//
// HTTP: POST /api/tasks/reset → {"reopened": n, "user": {...}}
func (h *TaskHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	res, err := h.tasks.Reset(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStats returns the dashboard summary.
//
// HTTP: GET /api/tasks/stats
func (h *TaskHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	stats, err := h.tasks.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *TaskHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("valid authentication required"))
	}
	return userID, ok
}

// parseDueDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, apperror.ValidationFailed("dueDate", "dueDate must be RFC 3339 or YYYY-MM-DD")
}
