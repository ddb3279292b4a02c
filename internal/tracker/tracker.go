// Package tracker manages asynchronous provisioning tasks: it issues
// opaque tokens, runs the work in the background, and answers status
// queries until the task expires.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"facet/internal/repo"
)

// Task states. A task moves PENDING -> RUNNING -> {COMPLETED, FAILED}
// and never transitions out of a terminal state.
const (
	StatePending   = "PENDING"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = repo.ErrNotFound

// Tracker owns the token -> task mapping. Each token has a single
// writer (the goroutine running it); status reads never block writers.
type Tracker struct {
	Repo      repo.Repo
	Retention time.Duration
	Now       func() time.Time
}

func New(r repo.Repo, retention time.Duration) *Tracker {
	return &Tracker{Repo: r, Retention: retention, Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Submit registers a task and runs fn in the background. The returned
// token is immediately queryable (state PENDING). The task's lifetime
// is decoupled from the submitting request: fn receives a fresh
// context, and once RUNNING it always reaches a terminal state.
func (t *Tracker) Submit(ctx context.Context, op, workspaceID string, fn func(ctx context.Context) (any, error)) (string, error) {
	token := uuid.NewString()
	now := t.now().UTC().Format(time.RFC3339)
	rec := repo.TaskRecord{
		Token:     token,
		Op:        op,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if workspaceID != "" {
		rec.WorkspaceID = &workspaceID
	}
	if err := t.Repo.InsertTask(ctx, rec); err != nil {
		return "", err
	}
	go t.run(token, fn)
	return token, nil
}

func (t *Tracker) run(token string, fn func(ctx context.Context) (any, error)) {
	ctx := context.Background()
	if err := t.Repo.SetTaskState(ctx, token, StateRunning, t.now().UTC().Format(time.RFC3339)); err != nil {
		return
	}
	result, err := fn(ctx)
	ts := t.now().UTC().Format(time.RFC3339)
	if err != nil {
		msg := err.Error()
		errJSON, mErr := json.Marshal(map[string]string{"message": msg})
		if mErr != nil {
			errJSON = []byte(fmt.Sprintf("{%q:%q}", "message", "task failed"))
		}
		s := string(errJSON)
		_ = t.Repo.CompleteTask(ctx, token, StateFailed, nil, &s, ts)
		return
	}
	resJSON, mErr := json.Marshal(result)
	if mErr != nil {
		s := fmt.Sprintf("{%q:%q}", "message", "result not serializable: "+mErr.Error())
		_ = t.Repo.CompleteTask(ctx, token, StateFailed, nil, &s, ts)
		return
	}
	s := string(resJSON)
	_ = t.Repo.CompleteTask(ctx, token, StateCompleted, &s, nil, ts)
}

// Status is a point-in-time view of a task.
type Status struct {
	Token     string          `json:"token"`
	Op        string          `json:"op"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// Status returns the current state of a token. Terminal tasks older
// than the retention window are purged first, so an expired token
// answers ErrNotFound like an unknown one.
func (t *Tracker) Status(ctx context.Context, token string) (Status, error) {
	if t.Retention > 0 {
		cutoff := t.now().Add(-t.Retention).UTC().Format(time.RFC3339)
		_ = t.Repo.DeleteTerminalTasksBefore(ctx, cutoff)
	}
	rec, err := t.Repo.GetTask(ctx, token)
	if err != nil {
		return Status{}, err
	}
	return statusFromRecord(rec), nil
}

func statusFromRecord(rec repo.TaskRecord) Status {
	st := Status{
		Token:     rec.Token,
		Op:        rec.Op,
		State:     rec.State,
		CreatedAt: rec.CreatedAt,
	}
	if rec.ResultJSON != nil {
		st.Result = json.RawMessage(*rec.ResultJSON)
	}
	if rec.ErrorJSON != nil {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(*rec.ErrorJSON), &payload); err == nil {
			st.Error = payload.Message
		} else {
			st.Error = *rec.ErrorJSON
		}
	}
	return st
}
