// Package history records agent invocations in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sris945/agentrunner/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Invocation struct {
	UUID       string
	ProjectDir string
	Started    time.Time
	InProgress bool
	Outcome    *string
	ExitCode   *int
	Message    *string
	Finished   *time.Time
}

type InvocationRow struct {
	Invocation
	ID int
}

func (r InvocationRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %s  %s", r.Started.Local().Format(time.DateTime), r.UUID, r.ProjectDir)
	switch {
	case r.InProgress:
		sb.WriteString("  in progress")
	case r.Outcome != nil:
		fmt.Fprintf(&sb, "  %s", *r.Outcome)
		if r.ExitCode != nil && *r.ExitCode != 0 {
			fmt.Fprintf(&sb, " (%d)", *r.ExitCode)
		}
		if r.Message != nil {
			fmt.Fprintf(&sb, ": %s", *r.Message)
		}
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS invocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			project_dir TEXT NOT NULL,
			started TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			outcome TEXT DEFAULT NULL,
			exit_code INTEGER DEFAULT NULL,
			message TEXT DEFAULT NULL,
			finished TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "rolling back transaction failed", slog.String("uuid", uuid), "error", err)
	}
}

// Start persists that the invocation identified by 'uuid' is in progress.
// If it is still in progress, no error is returned,
// if it has already finished ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, uuid, projectDir string, started time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM invocations WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (uuid, project_dir, started, in_progress) VALUES (?,?,?,?);`,
		uuid, projectDir, started.UTC().Format(time.RFC3339Nano), true,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the outcome of the invocation identified by 'uuid'.
// ErrNotFound is returned for unknown invocations and ErrAlreadyFinished
// when an outcome was already stored.
func Finish(ctx context.Context, db *sql.DB, uuid string, out model.Outcome, finished time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM invocations WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invocations
		 SET
			in_progress = false,
			outcome = ?,
			exit_code = ?,
			message = ?,
			finished = ?
		WHERE uuid = ?;
		`, out.Kind.String(), out.Code, out.Message, finished.UTC().Format(time.RFC3339Nano), uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, uuid, project_dir, started, in_progress, outcome, exit_code, message, finished FROM invocations`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (InvocationRow, error) {
	var (
		row      InvocationRow
		started  string
		finished *string
	)
	err := s.Scan(
		&row.ID,
		&row.UUID,
		&row.ProjectDir,
		&started,
		&row.InProgress,
		&row.Outcome,
		&row.ExitCode,
		&row.Message,
		&finished,
	)
	if err != nil {
		return InvocationRow{}, err
	}
	row.Started, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return InvocationRow{}, fmt.Errorf("parsing started: %w", err)
	}
	if finished != nil {
		t, err := time.Parse(time.RFC3339Nano, *finished)
		if err != nil {
			return InvocationRow{}, fmt.Errorf("parsing finished: %w", err)
		}
		row.Finished = &t
	}
	return row, nil
}

// Get returns the invocation identified by 'uuid' or ErrNotFound.
func Get(ctx context.Context, db *sql.DB, uuid string) (InvocationRow, error) {
	row, err := scanRow(db.QueryRowContext(ctx, selectColumns+` WHERE uuid=?`, uuid))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return InvocationRow{}, ErrNotFound
	case err != nil:
		return InvocationRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return row, nil
}

// List returns up to limit invocations, newest first. A limit <= 0 lists all.
func List(ctx context.Context, db *sql.DB, limit int) ([]InvocationRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ret []InvocationRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, row)
	}
	return ret, rows.Err()
}

// Recorder adapts the store to the orchestrator.
type Recorder struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, dbPath string) (*Recorder, error) {
	db, err := InitDB(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", dbPath, err)
	}
	return &Recorder{db: db, now: time.Now}, nil
}

func (r *Recorder) Start(ctx context.Context, uuid string, req model.JobRequest) error {
	return Start(ctx, r.db, uuid, req.ProjectDir, r.now())
}

func (r *Recorder) Finish(ctx context.Context, uuid string, out model.Outcome) error {
	return Finish(ctx, r.db, uuid, out, r.now())
}

func (r *Recorder) List(ctx context.Context, limit int) ([]InvocationRow, error) {
	return List(ctx, r.db, limit)
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
