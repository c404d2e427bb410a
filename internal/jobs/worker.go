package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safar/go-bookstore/internal/database"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	LeaseTimeout time.Duration
}

type recurring struct {
	kind     string
	interval time.Duration
	handler  Handler
}

// Worker claims due jobs and dispatches them by kind.
type Worker struct {
	db  *sql.DB
	log *zap.Logger
	cfg WorkerConfig

	mu        sync.RWMutex
	handlers  map[string]Handler
	recurring []recurring
}

func NewWorker(db *sql.DB, log *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	return &Worker{
		db:       db,
		log:      log,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

func (w *Worker) Register(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

// Every runs h on a fixed interval for as long as Run is active. Recurring
// work is not persisted; a run missed during downtime is simply skipped.
func (w *Worker) Every(kind string, interval time.Duration, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recurring = append(w.recurring, recurring{kind: kind, interval: interval, handler: h})
}

// Run blocks until ctx is cancelled or a loop fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.poll(ctx)
			return nil
		})
	}

	w.mu.RLock()
	schedules := append([]recurring(nil), w.recurring...)
	w.mu.RUnlock()

	for _, r := range schedules {
		r := r
		g.Go(func() error {
			w.tick(ctx, r)
			return nil
		})
	}

	g.Go(func() error {
		w.tick(ctx, recurring{
			kind:     "jobs.recover_leases",
			interval: w.cfg.LeaseTimeout / 2,
			handler: HandlerFunc(func(ctx context.Context, _ *Job) error {
				_, err := w.RecoverLeases(ctx)
				return err
			}),
		})
		return nil
	})

	w.log.Info("Job worker started", zap.Int("workers", w.cfg.Workers), zap.Int("recurring", len(schedules)))
	err := g.Wait()
	w.log.Info("Job worker stopped")
	return err
}

func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again.
		for {
			ran, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.log.Error("Failed to run job", zap.Error(err))
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context, r recurring) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.handler.Handle(ctx, &Job{Kind: r.kind, RunAt: time.Now()}); err != nil && ctx.Err() == nil {
				w.log.Error("Recurring job failed", zap.String("kind", r.kind), zap.Error(err))
			}
		}
	}
}

// RunOnce claims and runs a single due job. It reports whether a job was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.claim(ctx)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	w.mu.RLock()
	h, ok := w.handlers[job.Kind]
	w.mu.RUnlock()

	log := w.log.With(zap.Int64("job_id", job.ID), zap.String("kind", job.Kind), zap.Int("attempt", job.Attempts))

	var runErr error
	if !ok {
		runErr = Permanent(fmt.Errorf("no handler registered for %q", job.Kind))
	} else {
		runErr = w.handle(ctx, h, job)
	}

	if runErr == nil {
		log.Debug("Job done")
		return true, w.complete(ctx, job.ID)
	}

	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		log.Error("Job failed", zap.Error(runErr))
		return true, w.fail(ctx, job.ID, runErr)
	}

	delay := retryDelay(job.Attempts)
	log.Warn("Job attempt failed, rescheduling", zap.Error(runErr), zap.Duration("delay", delay))
	return true, w.reschedule(ctx, job.ID, delay, runErr)
}

func (w *Worker) handle(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (w *Worker) claim(ctx context.Context) (*Job, error) {
	var job *Job

	err := database.WithTransaction(ctx, w.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+`
			 FROM jobs
			 WHERE status = $1 AND run_at <= NOW()
			 ORDER BY run_at, id
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1`,
			StatusPending))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrJobNotFound
			}
			return fmt.Errorf("claim job: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = $1, attempts = attempts + 1, locked_at = NOW(), updated_at = NOW()
			 WHERE id = $2`,
			StatusRunning, job.ID)
		if err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}

		job.Status = StatusRunning
		job.Attempts++
		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (w *Worker) complete(ctx context.Context, id int64) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, locked_at = NULL, last_error = NULL, updated_at = NOW() WHERE id = $2`,
		StatusDone, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, id int64, cause error) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, locked_at = NULL, last_error = $2, updated_at = NOW() WHERE id = $3`,
		StatusFailed, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (w *Worker) reschedule(ctx context.Context, id int64, delay time.Duration, cause error) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, run_at = $2, locked_at = NULL, last_error = $3, updated_at = NOW()
		 WHERE id = $4`,
		StatusPending, time.Now().Add(delay).UTC(), cause.Error(), id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			// A newer pending job with the same dedupe key supersedes this one.
			return w.fail(ctx, id, cause)
		}
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

// RecoverLeases returns jobs stuck in running past the lease timeout to the
// queue, e.g. after a worker crashed mid-job.
func (w *Worker) RecoverLeases(ctx context.Context) (int64, error) {
	result, err := w.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, locked_at = NULL, updated_at = NOW()
		 WHERE status = $2
		   AND locked_at < $3
		   AND NOT EXISTS (
		       SELECT 1 FROM jobs p
		       WHERE p.kind = jobs.kind AND p.dedupe_key = jobs.dedupe_key AND p.status = $1
		   )`,
		StatusPending, StatusRunning, time.Now().Add(-w.cfg.LeaseTimeout).UTC())
	if err != nil {
		return 0, fmt.Errorf("recover job leases: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if n > 0 {
		w.log.Warn("Recovered stuck jobs", zap.Int64("count", n))
	}
	return n, nil
}

func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
