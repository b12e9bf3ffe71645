package client

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/progression"
)

// Server-side defaults mirrored for locally created tasks.
const (
	localXPReward     = 10
	localCompletionXP = 30
	localIDPrefix     = "local-"

	// sessionTaskLimit is the largest page the server returns.
	sessionTaskLimit = 500
)

var (
	ErrNotLoggedIn   = errors.New("questlog: session is not logged in")
	ErrUnknownTask   = errors.New("questlog: task is not in the session")
	ErrInvalidStatus = errors.New("questlog: invalid task status")
)

// SessionOptions tunes a Session. The zero value talks to the server only.
type SessionOptions struct {
	// Fallback applies mutations locally when the server is unreachable.
	Fallback bool
	// Policy is used for local progression. Zero means progression.DefaultPolicy.
	Policy progression.Policy
	Now    func() time.Time
}

// Result is the outcome of a session mutation. Local is true when the
// server was not reached and the change exists only in this session.
type Result struct {
	Task     *model.Task
	Progress *model.Progress
	Local    bool
}

// Session holds the signed-in user and their task list between calls.
// It is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	client *Client
	opts   SessionOptions
	user   *model.User
	tasks  []model.Task
}

func NewSession(c *Client, opts SessionOptions) *Session {
	if opts.Policy.Curve == nil {
		opts.Policy = progression.DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{client: c, opts: opts}
}

func (s *Session) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	res, err := s.client.Register(ctx, username, email, password)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, res)
}

func (s *Session) Login(ctx context.Context, email, password string) (*model.User, error) {
	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, res)
}

// start adopts the auth response once the first task listing succeeds. On
// failure the session stays logged out and the token is dropped.
func (s *Session) start(ctx context.Context, res *AuthResponse) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client.SetToken(res.Token)
	s.user = nil
	s.tasks = nil

	tasks, err := s.client.ListTasks(ctx, ListOptions{Limit: sessionTaskLimit})
	if err != nil {
		s.client.SetToken("")
		return nil, err
	}
	user := res.User
	s.user = &user
	s.tasks = tasks
	out := user
	return &out, nil
}

// Logout drops the token and everything cached.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.SetToken("")
	s.user = nil
	s.tasks = nil
}

// Refresh replaces the cached user and tasks with the server's copy.
// Locally applied changes are discarded.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ErrNotLoggedIn
	}

	user, err := s.client.Profile(ctx)
	if err != nil {
		return err
	}
	tasks, err := s.client.ListTasks(ctx, ListOptions{Limit: sessionTaskLimit})
	if err != nil {
		return err
	}
	s.user = user
	s.tasks = tasks
	return nil
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

// User returns a copy of the cached user, or nil when logged out.
func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Tasks returns a copy of the cached task list.
func (s *Session) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

func (s *Session) CreateTask(ctx context.Context, in NewTask) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, ErrNotLoggedIn
	}

	res, err := s.client.CreateTask(ctx, in)
	if err != nil {
		if !s.fallback(err) {
			return nil, err
		}
		return s.createLocal(in), nil
	}

	s.tasks = append([]model.Task{res.Task}, s.tasks...)
	s.setProgress(res.User)
	task := res.Task
	return &Result{Task: &task, Progress: res.User}, nil
}

func (s *Session) SetStatus(ctx context.Context, id string, status model.TaskStatus) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, ErrNotLoggedIn
	}

	res, err := s.client.UpdateTask(ctx, id, TaskUpdate{Status: &status})
	if err != nil {
		if !s.fallback(err) {
			return nil, err
		}
		return s.setStatusLocal(id, status)
	}

	if i := s.indexOf(id); i >= 0 {
		s.tasks[i] = res.Task
	} else {
		s.tasks = append([]model.Task{res.Task}, s.tasks...)
	}
	s.setProgress(res.User)
	task := res.Task
	return &Result{Task: &task, Progress: res.User}, nil
}

// DeleteTask removes the task. Earned XP stays with the user either way.
func (s *Session) DeleteTask(ctx context.Context, id string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, ErrNotLoggedIn
	}

	local := false
	if err := s.client.DeleteTask(ctx, id); err != nil {
		if !s.fallback(err) {
			return nil, err
		}
		if s.indexOf(id) < 0 {
			return nil, ErrUnknownTask
		}
		local = true
	}

	if i := s.indexOf(id); i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
	}
	return &Result{Local: local}, nil
}

// fallback reports whether err is a transport failure the session may
// absorb. Errors the server answered with are always returned.
func (s *Session) fallback(err error) bool {
	return s.opts.Fallback && !IsAPIError(err) && !errors.Is(err, context.Canceled)
}

func (s *Session) createLocal(in NewTask) *Result {
	now := s.opts.Now().UTC()
	task := model.Task{
		ID:           localIDPrefix + xid.New().String(),
		UserID:       s.user.ID,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Category:     in.Category,
		Status:       model.StatusOpen,
		Priority:     model.PriorityMedium,
		XPReward:     localXPReward,
		CompletionXP: localCompletionXP,
		DueDate:      in.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p, err := model.ParseTaskPriority(in.Priority); err == nil {
		task.Priority = p
	}
	if in.XPReward != nil {
		task.XPReward = *in.XPReward
	}
	if in.CompletionXP != nil {
		task.CompletionXP = *in.CompletionXP
	}

	s.tasks = append([]model.Task{task}, s.tasks...)

	delta := 0
	if s.opts.Policy.AwardOnCreate {
		delta = task.XPReward
	}
	progress := s.grantLocal(delta)
	return &Result{Task: &task, Progress: &progress, Local: true}
}

func (s *Session) setStatusLocal(id string, status model.TaskStatus) (*Result, error) {
	next, err := model.ParseTaskStatus(string(status))
	if err != nil {
		return nil, ErrInvalidStatus
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrUnknownTask
	}

	task := &s.tasks[i]
	now := s.opts.Now().UTC()
	delta := task.Transition(next, s.opts.Policy.Reopen, now)
	task.UpdatedAt = now

	res := &Result{Local: true}
	if delta != 0 {
		progress := s.grantLocal(delta)
		res.Progress = &progress
	}
	out := *task
	res.Task = &out
	return res, nil
}

// grantLocal runs the progression rule on the cached user.
func (s *Session) grantLocal(delta int) model.Progress {
	state := progression.State{Level: s.user.Level, XP: s.user.XP}
	var r progression.Result
	if delta < 0 {
		r = progression.Revoke(s.opts.Policy.Curve, state, -delta)
	} else {
		r = progression.Apply(s.opts.Policy.Curve, state, delta)
	}
	s.user.Level, s.user.XP, s.user.XPToNextLevel = r.Level, r.XP, r.Threshold
	return s.user.Progress()
}

func (s *Session) setProgress(p *model.Progress) {
	if p == nil {
		return
	}
	s.user.Level, s.user.XP, s.user.XPToNextLevel = p.Level, p.XP, p.XPToNextLevel
}

func (s *Session) indexOf(id string) int {
	return slices.IndexFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}
