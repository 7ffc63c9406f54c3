package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"news-video-pipeline/types"
)

// ErrJobNotFound is returned for unknown job ids
var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusError      JobStatus = "ERROR"
)

// Job is one row of the jobs table
type Job struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Status            JobStatus `json:"status"`
	Voice             string    `json:"voiceType"`
	Mode              string    `json:"visualMode"`
	RequestedDuration float64   `json:"requestedDuration"`
	ActualDuration    float64   `json:"actualDuration,omitempty"`
	FilePath          string    `json:"-"`
	SizeBytes         int64     `json:"fileSize,omitempty"`
	ErrorStage        string    `json:"errorStage,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Store persists job status in sqlite
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	voice TEXT NOT NULL,
	mode TEXT NOT NULL,
	requested_duration REAL NOT NULL DEFAULT 0,
	actual_duration REAL NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	error_stage TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// OpenStore opens (or creates) the jobs database at path
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open jobs db %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecoverStuck marks jobs left PROCESSING by a previous process as failed
func (s *Store) RecoverStuck(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_stage = ?, error_message = ?, updated_at = ? WHERE status IN (?, ?)`,
		StatusError, "interrupted", "server restarted while the video was processing", now(),
		StatusProcessing, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// Create inserts a new job; CreatedAt/UpdatedAt are set here
func (s *Store) Create(ctx context.Context, j *Job) error {
	ts := now()
	j.CreatedAt, j.UpdatedAt = parseTime(ts), parseTime(ts)
	if j.Status == "" {
		j.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, title, status, voice, mode, requested_duration, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Title, j.Status, j.Voice, j.Mode, j.RequestedDuration, ts, ts)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, `status = ?, updated_at = ?`, StatusProcessing, now())
}

// Complete records the finished video
func (s *Store) Complete(ctx context.Context, id string, res *types.MediaResult) error {
	return s.update(ctx, id,
		`status = ?, actual_duration = ?, file_path = ?, size_bytes = ?, updated_at = ?`,
		StatusCompleted, res.MeasuredDurationSeconds, res.Path, res.SizeBytes, now())
}

// Fail records why a job stopped
func (s *Store) Fail(ctx context.Context, id, stage, message string) error {
	return s.update(ctx, id,
		`status = ?, error_stage = ?, error_message = ?, updated_at = ?`,
		StatusError, stage, message, now())
}

func (s *Store) update(ctx context.Context, id, set string, args ...any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

const jobColumns = `id, title, status, voice, mode, requested_duration, actual_duration,
	file_path, size_bytes, error_stage, error_message, created_at, updated_at`

// Get returns one job or ErrJobNotFound
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// List returns jobs newest first
func (s *Store) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (*Job, error) {
	var (
		j                Job
		created, updated string
	)
	err := r.Scan(&j.ID, &j.Title, &j.Status, &j.Voice, &j.Mode, &j.RequestedDuration, &j.ActualDuration,
		&j.FilePath, &j.SizeBytes, &j.ErrorStage, &j.ErrorMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.CreatedAt, j.UpdatedAt = parseTime(created), parseTime(updated)
	return &j, nil
}

// fixed width so that ORDER BY on the text column is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return formatTime(time.Now()) }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
