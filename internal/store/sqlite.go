package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/coderun/pkg/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    language     TEXT NOT NULL,
    code         TEXT NOT NULL,
    stdin        TEXT NOT NULL DEFAULT '',
    env          TEXT,
    network_mode TEXT NOT NULL,
    ttl_s        INTEGER NOT NULL,
    stdout       TEXT NOT NULL DEFAULT '',
    stderr       TEXT NOT NULL DEFAULT '',
    exit_code    INTEGER,
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createArtifactsTable = `
CREATE TABLE IF NOT EXISTS artifacts (
    job_id     TEXT NOT NULL REFERENCES jobs(id),
    name       TEXT NOT NULL,
    mime_type  TEXT NOT NULL,
    size       INTEGER NOT NULL,
    content    BLOB NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (job_id, name)
)`

const jobColumns = `id, status, language, code, stdin, env, network_mode, ttl_s,
	stdout, stderr, exit_code, error, duration_ms, created_at, started_at, finished_at`

var allStatuses = []model.JobStatus{
	model.StatusPending,
	model.StatusRunning,
	model.StatusCompleted,
	model.StatusFailed,
	model.StatusTimeout,
	model.StatusCancelled,
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for name, stmt := range map[string]string{"jobs": createJobsTable, "artifacts": createArtifactsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *Job) error {
	env, err := encodeEnv(j.Env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Status, j.Language, j.Code, j.Stdin, env, j.NetworkMode, j.TTLSeconds,
		j.Stdout, j.Stderr, j.ExitCode, j.Error, j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobStatus moves a job to status. Running sets started_at and terminal
// statuses set finished_at. The transition is checked in the same statement
// as the write, so concurrent finishers cannot both win.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error {
	from := sourcesFor(status)
	if len(from) == 0 {
		return s.transitionError(ctx, id)
	}

	now := time.Now().UTC()
	set := "status = ?"
	args := []any{status}
	switch {
	case status == model.StatusRunning:
		set += ", started_at = ?"
		args = append(args, now)
	case status.IsTerminal():
		set += ", finished_at = ?"
		args = append(args, now)
	}
	args = append(args, id)
	args = append(args, from...)

	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET "+set+" WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return s.checkAffected(ctx, result, id)
}

// FinishJob writes the terminal status and execution results of j.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *Job) error {
	if !j.Status.IsTerminal() {
		return fmt.Errorf("finish job %s with non-terminal status %q: %w", j.ID, j.Status, ErrInvalidTransition)
	}
	from := sourcesFor(j.Status)

	finished := time.Now().UTC()
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}

	args := []any{
		j.Status, j.Stdout, j.Stderr, j.ExitCode, j.Error, j.DurationMS,
		j.StartedAt, finished, j.ID,
	}
	args = append(args, from...)

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stdout = ?, stderr = ?, exit_code = ?, error = ?,
			duration_ms = ?, started_at = COALESCE(started_at, ?), finished_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return s.checkAffected(ctx, result, j.ID)
}

// GetJobStats returns aggregate counts and the average duration of finished jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus:   map[string]int{},
		CountByLanguage: map[string]int{},
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM jobs",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	groups := []struct {
		column string
		dst    map[string]int
	}{
		{"status", stats.CountByStatus},
		{"language", stats.CountByLanguage},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.dst); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM jobs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

// PutArtifact stores (or replaces) an artifact's metadata and content.
func (s *SQLiteStore) PutArtifact(ctx context.Context, a *Artifact, content []byte) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if content == nil {
		content = []byte{}
	}
	a.SizeBytes = int64(len(content))
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (job_id, name, mime_type, size, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.JobID, a.Name, a.MimeType, a.SizeBytes, content, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns artifact metadata for a job, ordered by name.
// A job without artifacts yields an empty, non-nil slice.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, name, mime_type, size, created_at FROM artifacts
		WHERE job_id = ? ORDER BY name ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.JobID, &a.Name, &a.MimeType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// GetArtifact returns one artifact with its content.
func (s *SQLiteStore) GetArtifact(ctx context.Context, jobID, name string) (*Artifact, []byte, error) {
	a := &Artifact{}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, name, mime_type, size, created_at, content FROM artifacts
		WHERE job_id = ? AND name = ?`, jobID, name,
	).Scan(&a.JobID, &a.Name, &a.MimeType, &a.SizeBytes, &a.CreatedAt, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, content, nil
}

// checkAffected turns a zero-row update into ErrNotFound or ErrInvalidTransition.
func (s *SQLiteStore) checkAffected(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return s.transitionError(ctx, id)
}

func (s *SQLiteStore) transitionError(ctx context.Context, id string) error {
	var current model.JobStatus
	err := s.db.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("job %s is %s: %w", id, current, ErrInvalidTransition)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	j := &Job{}
	var env sql.NullString
	if err := sc.Scan(
		&j.ID, &j.Status, &j.Language, &j.Code, &j.Stdin, &env, &j.NetworkMode, &j.TTLSeconds,
		&j.Stdout, &j.Stderr, &j.ExitCode, &j.Error, &j.DurationMS,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &j.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return j, nil
}

func encodeEnv(env map[string]string) (any, error) {
	if len(env) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode env: %w", err)
	}
	return string(b), nil
}

// sourcesFor lists the statuses from which to is reachable.
func sourcesFor(to model.JobStatus) []any {
	var from []any
	for _, s := range allStatuses {
		if model.ValidTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
