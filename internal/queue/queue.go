// Package queue implements a durable, Postgres-backed job queue with
// delayed one-shot jobs, singleton-key deduplication, bounded retry with
// exponential backoff, and persisted cron schedules.
//
// Delivery is at-least-once: a job claimed by a crashed process is returned
// to the pending state by the reaper once its visibility timeout expires, so
// handlers must tolerate re-delivery. Pending jobs and schedules live in
// Postgres and survive process restarts, which is the entire point of using
// the database instead of in-memory timers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"wrathbot/internal/config"
	"wrathbot/internal/db"
	"wrathbot/internal/types"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	// StateCreated marks a pending job waiting for its start_after instant.
	StateCreated JobState = "created"
	// StateActive marks a job claimed by a worker and currently executing.
	StateActive JobState = "active"
	// StateCompleted marks a job whose handler returned successfully.
	StateCompleted JobState = "completed"
	// StateFailed marks a job that exhausted its retry budget.
	StateFailed JobState = "failed"
)

// Job is one row of the queue_jobs table as seen by a handler.
type Job struct {
	ID           uuid.UUID
	Queue        string
	Payload      json.RawMessage
	SingletonKey *string
	RetryCount   int
	RetryLimit   int
	RetryBackoff bool
	StartAfter   time.Time
}

// Handler processes one due job. A nil return completes the job; an error
// return schedules a retry until the retry limit is exhausted.
type Handler func(ctx context.Context, job Job) error

// SendOptions controls job submission.
type SendOptions struct {
	// SingletonKey deduplicates pending jobs: while a created job with this
	// key exists on the queue, further sends with the same key are coalesced
	// into no-ops. Active jobs do not block a send, so a handler can submit
	// the next occurrence of its own key. Empty disables dedupe.
	SingletonKey string
	// StartAfter is the earliest instant the job may be delivered. Zero
	// means immediately.
	StartAfter time.Time
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// RetryBackoff selects exponential backoff between retries instead of
	// a fixed delay.
	RetryBackoff bool
}

// RetryPolicy defines the backoff parameters applied between retries.
type RetryPolicy struct {
	FixedDelay    time.Duration // used when a job opts out of backoff
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the delivery characteristics of the job kinds
// this bot runs: quick first retry, capped to an hour so a persistent
// failure still resolves within the daily reconciliation window.
var DefaultRetryPolicy = RetryPolicy{
	FixedDelay:    30 * time.Second,
	BaseDelay:     30 * time.Second,
	MaxDelay:      time.Hour,
	BackoffFactor: 2.0,
}

// RetryDelay computes the delay before retry attempt n (zero-based) for a
// job. Backoff jobs get min(BaseDelay * BackoffFactor^attempt, MaxDelay);
// the rest get the fixed delay.
func (p RetryPolicy) RetryDelay(backoff bool, attempt int) time.Duration {
	if !backoff {
		return p.FixedDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffFactor
	}
	d := time.Duration(delay)
	if d > p.MaxDelay || d < 0 {
		// The < 0 branch guards against overflow.
		d = p.MaxDelay
	}
	return d
}

// cronParser accepts standard 5-field expressions plus descriptors such as
// @daily. Seconds resolution is pointless for jobs polled on a multi-second
// interval.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Queue is the durable job queue. One Queue instance serves the whole
// process: handlers are registered per queue name, then Run drives polling,
// dispatch, retries, cron schedules, reaping, and pruning.
type Queue struct {
	db     db.DBTX
	cfg    config.QueueConfig
	policy RetryPolicy
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// New creates a Queue backed by the given database connection.
func New(database db.DBTX, cfg config.QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:       database,
		cfg:      cfg,
		policy:   DefaultRetryPolicy,
		logger:   logger,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

// RegisterWorker installs the handler for a queue name. Jobs on queues with
// no registered handler stay pending until a handler appears; registration
// must therefore happen before Run.
func (q *Queue) RegisterWorker(queueName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queueName] = h
}

// handler returns the registered handler for a queue, if any.
func (q *Queue) handler(queueName string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[queueName]
	return h, ok
}

// Send submits a job. When the options carry a singleton key and a pending
// job with that key already exists on the queue, the submission is coalesced
// and Send reports inserted=false with no error.
func (q *Queue) Send(ctx context.Context, queueName string, payload any, opts SendOptions) (inserted bool, err error) {
	body := []byte("{}")
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal job payload", err)
		}
	}

	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = q.now()
	}

	var singleton *string
	if opts.SingletonKey != "" {
		singleton = &opts.SingletonKey
	}

	// The partial unique index on (queue, singleton_key) over the created
	// state makes the conflict arbiter; DO NOTHING coalesces duplicates.
	tag, err := q.db.Exec(ctx,
		`INSERT INTO queue_jobs
		 (id, queue, payload, singleton_key, state, retry_limit, retry_backoff, start_after)
		 VALUES ($1, $2, $3, $4, 'created', $5, $6, $7)
		 ON CONFLICT DO NOTHING`,
		uuid.New(), queueName, body, singleton, opts.RetryLimit, opts.RetryBackoff, startAfter,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send job to %s", queueName), err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeletePending removes any pending (not yet claimed) job with the given
// singleton key. Active jobs are left alone: they are already executing and
// deleting their row would not stop them.
func (q *Queue) DeletePending(ctx context.Context, queueName, singletonKey string) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM queue_jobs
		 WHERE queue = $1 AND singleton_key = $2 AND state = 'created'`,
		queueName, singletonKey,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to delete pending job %s", singletonKey), err)
	}
	return nil
}

// Schedule persists a named cron schedule that enqueues a job onto the given
// queue every time the expression fires. Re-scheduling with an unchanged
// expression preserves the stored next_run, so a schedule that came due
// while the process was down fires once on restart (catch-up) instead of
// being pushed a full period into the future.
func (q *Queue) Schedule(ctx context.Context, name, queueName, cronExpr string) error {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("invalid cron expression %q for schedule %s", cronExpr, name), err)
	}
	next := sched.Next(q.now().UTC())

	_, err = q.db.Exec(ctx,
		`INSERT INTO queue_schedules (name, queue, cron_expr, next_run)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET queue = EXCLUDED.queue,
		     cron_expr = EXCLUDED.cron_expr,
		     next_run = CASE
		         WHEN queue_schedules.cron_expr IS DISTINCT FROM EXCLUDED.cron_expr
		         THEN EXCLUDED.next_run
		         ELSE queue_schedules.next_run
		     END`,
		name, queueName, cronExpr, next,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to persist schedule %s", name), err)
	}
	return nil
}
