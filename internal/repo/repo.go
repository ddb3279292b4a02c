// Package repo is the sqlite persistence layer for tracked tasks and
// audit events.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// TaskRecord is a row of the tasks table.
type TaskRecord struct {
	Token       string  `json:"token"`
	Op          string  `json:"op"`
	State       string  `json:"state"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
	ResultJSON  *string `json:"result_json,omitempty"`
	ErrorJSON   *string `json:"error_json,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Event is a row of the audit log.
type Event struct {
	ID          int64   `json:"id"`
	TS          string  `json:"ts"`
	Type        string  `json:"type"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
	EntityKind  string  `json:"entity_kind"`
	EntityID    *string `json:"entity_id,omitempty"`
	PayloadJSON string  `json:"payload_json"`
}

func (r Repo) InsertTask(ctx context.Context, t TaskRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO tasks(token,op,state,workspace_id,result_json,error_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.Token, t.Op, t.State, t.WorkspaceID, t.ResultJSON, t.ErrorJSON, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, token string) (TaskRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT token,op,state,workspace_id,result_json,error_json,created_at,updated_at FROM tasks WHERE token=?`, token)
	var t TaskRecord
	err := row.Scan(&t.Token, &t.Op, &t.State, &t.WorkspaceID, &t.ResultJSON, &t.ErrorJSON, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// SetTaskState moves a task to a new state; only the owning worker
// writes a given token, so a plain update suffices.
func (r Repo) SetTaskState(ctx context.Context, token, state, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET state=?, updated_at=? WHERE token=?`, state, updatedAt, token)
	if err != nil {
		return fmt.Errorf("set task state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteTask records a terminal state with either a result or an
// error payload.
func (r Repo) CompleteTask(ctx context.Context, token, state string, resultJSON, errorJSON *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET state=?, result_json=?, error_json=?, updated_at=? WHERE token=?`,
		state, resultJSON, errorJSON, updatedAt, token)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns the most recent tasks, newest first.
func (r Repo) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT token,op,state,workspace_id,result_json,error_json,created_at,updated_at FROM tasks ORDER BY created_at DESC, token LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.Token, &t.Op, &t.State, &t.WorkspaceID, &t.ResultJSON, &t.ErrorJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTerminalTasksBefore removes terminal tasks last updated before
// the cutoff. Pending and running tasks are never expired.
func (r Repo) DeleteTerminalTasksBefore(ctx context.Context, cutoff string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM tasks WHERE state IN ('COMPLETED','FAILED') AND updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("expire tasks: %w", err)
	}
	return nil
}

// LatestEvents returns recent audit events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, workspaceID, evtType string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,workspace_id,entity_kind,entity_id,payload_json FROM events WHERE 1=1`
	var args []any
	if workspaceID != "" {
		query += ` AND workspace_id=?`
		args = append(args, workspaceID)
	}
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkspaceID, &e.EntityKind, &e.EntityID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
