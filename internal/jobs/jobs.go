// Package jobs persists deferred work in the jobs table and runs it on a
// pool of workers. Jobs are enqueued through any Queryer so scheduling can
// join the caller's transaction.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/safar/go-bookstore/internal/database"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

const defaultMaxAttempts = 5

type Job struct {
	ID          int64
	Kind        string
	Payload     json.RawMessage
	RunAt       time.Time
	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   *string
	DedupeKey   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

type NewJob struct {
	Kind        string
	Payload     any
	RunAt       time.Time
	DedupeKey   string
	MaxAttempts int
}

type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the job fails without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Scheduler struct {
	maxAttempts int
}

func NewScheduler(maxAttempts int) *Scheduler {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Scheduler{maxAttempts: maxAttempts}
}

// Enqueue stores a job. When DedupeKey is set and a pending job with the same
// kind and key exists, that job's id is returned instead.
func (s *Scheduler) Enqueue(ctx context.Context, q database.Queryer, nj NewJob) (int64, error) {
	payload, err := json.Marshal(nj.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", nj.Kind, err)
	}
	if nj.Payload == nil {
		payload = []byte("{}")
	}

	runAt := nj.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	maxAttempts := nj.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = s.maxAttempts
	}
	var dedupeKey *string
	if nj.DedupeKey != "" {
		dedupeKey = &nj.DedupeKey
	}

	var id int64
	err = q.QueryRowContext(ctx,
		`INSERT INTO jobs (kind, payload, run_at, status, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (kind, dedupe_key) WHERE status = 'pending' AND dedupe_key IS NOT NULL DO NOTHING
		 RETURNING id`,
		nj.Kind, string(payload), runAt.UTC(), StatusPending, maxAttempts, dedupeKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("enqueue %s: %w", nj.Kind, err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE kind = $1 AND dedupe_key = $2 AND status = $3`,
		nj.Kind, nj.DedupeKey, StatusPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("find deduplicated %s job: %w", nj.Kind, err)
	}

	return id, nil
}

// Delete removes a job that has not started yet.
func (s *Scheduler) Delete(ctx context.Context, q database.Queryer, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status = $2`, id, StatusPending)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrJobNotFound
	}
	return nil
}

const jobColumns = `id, kind, payload, run_at, status, attempts, max_attempts, last_error, dedupe_key, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*Job, error) {
	job := &Job{}
	var (
		payload              []byte
		lastError, dedupeKey sql.NullString
	)

	err := row.Scan(&job.ID, &job.Kind, &payload, &job.RunAt, &job.Status, &job.Attempts,
		&job.MaxAttempts, &lastError, &dedupeKey, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if dedupeKey.Valid {
		job.DedupeKey = &dedupeKey.String
	}

	return job, nil
}

func Get(ctx context.Context, q database.Queryer, id int64) (*Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
