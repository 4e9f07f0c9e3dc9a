// Package journal keeps an SQLite audit trail of command requests and their
// outcomes, partitioned by client session.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/relay/internal/protocol"
	"github.com/mattjoyce/relay/internal/registry"
)

// Entry is one row of the journal.
type Entry struct {
	Session       string          `json:"session"`
	ID            int64           `json:"id"`
	Command       string          `json:"command"`
	Mode          protocol.Mode   `json:"mode"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	Target        *int            `json:"target,omitempty"`
	Status        registry.Status `json:"status"`
	Successful    *bool           `json:"successful,omitempty"`
	FailureDetail string          `json:"failure_detail,omitempty"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	Worker        *int            `json:"worker,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Journal writes command history to an open database.
type Journal struct {
	db *sql.DB
}

// New wraps a database bootstrapped by storage.OpenSQLite.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record stores a newly submitted request.
func (j *Journal) Record(ctx context.Context, session string, req registry.Request) error {
	if session == "" {
		return fmt.Errorf("session is empty")
	}
	params, err := marshalParams(req.Parameters)
	if err != nil {
		return err
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO command_log(session, id, command, mode, parameters, target, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session, id) DO NOTHING;
`, session, req.ID, req.Command, string(req.Mode), params, nullInt(req.Target), string(req.Status), createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Complete stores the outcome of a request. A request never recorded gets
// a row built from the response. Only the first completion is kept.
func (j *Journal) Complete(ctx context.Context, session string, resp registry.Response) error {
	if session == "" {
		return fmt.Errorf("session is empty")
	}
	completedAt := resp.ReceivedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	stamp := completedAt.UTC().Format(time.RFC3339Nano)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO command_log(session, id, command, mode, status, created_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(session, id) DO NOTHING;
`, session, resp.ID, resp.Command, string(resp.Mode), string(resp.Status), stamp)
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}

	var returnValue any
	if len(resp.ReturnValue) > 0 {
		returnValue = string(resp.ReturnValue)
	}
	_, err = tx.ExecContext(ctx, `
UPDATE command_log
SET status = ?, successful = ?, failure_detail = ?, return_value = ?, worker = ?, completed_at = ?
WHERE session = ? AND id = ? AND completed_at IS NULL;
`, string(resp.Status), resp.Successful, nullString(resp.FailureDetail), returnValue, nullWorker(resp.Worker), stamp, session, resp.ID)
	if err != nil {
		return fmt.Errorf("update command_log completion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. An empty session lists
// every session.
func (j *Journal) List(ctx context.Context, session string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT session, id, command, mode, parameters, target, status, successful, failure_detail, return_value, worker, created_at, completed_at
FROM command_log
WHERE (? = '' OR session = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?;
`, session, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log: %w", err)
	}
	return out, nil
}

// ErrNotFound is returned by Get when no entry matches.
var ErrNotFound = errors.New("command not found in journal")

// Get returns one entry. An empty session picks the most recent session
// that has the id.
func (j *Journal) Get(ctx context.Context, session string, id int64) (Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT session, id, command, mode, parameters, target, status, successful, failure_detail, return_value, worker, created_at, completed_at
FROM command_log
WHERE id = ? AND (? = '' OR session = ?)
ORDER BY created_at DESC
LIMIT 1;
`, id, session, session)
	if err != nil {
		return Entry{}, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Entry{}, fmt.Errorf("iterate command_log: %w", err)
		}
		return Entry{}, ErrNotFound
	}
	return scanEntry(rows)
}

// Prune deletes completed entries older than before and reports how many
// were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
DELETE FROM command_log
WHERE completed_at IS NOT NULL AND completed_at < ?;
`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune command_log: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e             Entry
		mode, status  string
		params        sql.NullString
		target        sql.NullInt64
		successful    sql.NullBool
		failureDetail sql.NullString
		returnValue   sql.NullString
		worker        sql.NullInt64
		createdAt     string
		completedAt   sql.NullString
	)
	if err := rows.Scan(&e.Session, &e.ID, &e.Command, &mode, &params, &target, &status, &successful,
		&failureDetail, &returnValue, &worker, &createdAt, &completedAt); err != nil {
		return Entry{}, fmt.Errorf("scan command_log: %w", err)
	}

	e.Mode = protocol.Mode(mode)
	e.Status = registry.Status(status)
	e.FailureDetail = failureDetail.String
	if params.Valid {
		e.Parameters = json.RawMessage(params.String)
	}
	if returnValue.Valid {
		e.ReturnValue = json.RawMessage(returnValue.String)
	}
	if target.Valid {
		v := int(target.Int64)
		e.Target = &v
	}
	if worker.Valid {
		v := int(worker.Int64)
		e.Worker = &v
	}
	if successful.Valid {
		v := successful.Bool
		e.Successful = &v
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse completed_at: %w", err)
		}
		e.CompletedAt = &t
	}
	return e, nil
}

func marshalParams(params map[string]any) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	return string(b), nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullWorker(w int) any {
	if w <= 0 {
		return nil
	}
	return w
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
