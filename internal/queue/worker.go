package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

// Run drives the queue until ctx is cancelled: each poll tick reaps stale
// active jobs, fires due schedules, claims due jobs and dispatches them to
// their handlers on a bounded worker pool, and prunes finished history.
// In-flight handlers are waited for before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.logger.Info("queue worker started",
		"poll_interval", q.cfg.PollInterval.String(),
		"concurrency", q.cfg.Concurrency,
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("queue worker stopping")
			return ctx.Err()
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick runs one maintenance-and-dispatch pass. Every step is isolated: a
// failure in one never blocks the others, and nothing here is fatal to the
// process.
func (q *Queue) tick(ctx context.Context) {
	if err := q.reapStaleJobs(ctx); err != nil {
		q.logger.Error("failed to reap stale jobs", "error", err)
	}
	if err := q.fireDueSchedules(ctx); err != nil {
		q.logger.Error("failed to fire due schedules", "error", err)
	}
	if err := q.dispatchDueJobs(ctx); err != nil {
		q.logger.Error("failed to dispatch due jobs", "error", err)
	}
	if err := q.pruneFinishedJobs(ctx); err != nil {
		q.logger.Error("failed to prune finished jobs", "error", err)
	}
}

// claimBatchSize bounds how many due jobs one tick claims. Claimed jobs are
// dispatched before the next tick, so the bound also limits how much work a
// single crash can send back through the reaper.
const claimBatchSize = 50

// dispatchDueJobs claims a batch of due jobs and runs their handlers with
// bounded concurrency. FOR UPDATE SKIP LOCKED makes the claim safe against
// concurrent pollers.
func (q *Queue) dispatchDueJobs(ctx context.Context) error {
	rows, err := q.db.Query(ctx,
		`UPDATE queue_jobs
		 SET state = 'active', started_at = NOW()
		 WHERE id IN (
		     SELECT id FROM queue_jobs
		     WHERE state = 'created' AND start_after <= NOW()
		     ORDER BY start_after
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, queue, payload, singleton_key, retry_count, retry_limit, retry_backoff, start_after`,
		claimBatchSize,
	)
	if err != nil {
		return fmt.Errorf("claiming due jobs: %w", err)
	}

	jobs, err := scanJobs(rows)
	if err != nil {
		return fmt.Errorf("scanning claimed jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			q.runJob(gCtx, job)
			// Job failures are settled per job; never propagate into the
			// group, or sibling jobs would be cancelled.
			return nil
		})
	}
	return g.Wait()
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.Queue, &j.Payload, &j.SingletonKey,
			&j.RetryCount, &j.RetryLimit, &j.RetryBackoff, &j.StartAfter,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// runJob executes one claimed job and settles its row. A missing handler
// counts as a handler failure so the job retries once a handler is
// registered (or fails out and surfaces in the logs).
func (q *Queue) runJob(ctx context.Context, job Job) {
	logger := q.logger.With("job_id", job.ID.String(), "queue", job.Queue, "retry_count", job.RetryCount)

	h, ok := q.handler(job.Queue)
	if !ok {
		q.settleFailure(ctx, job, errors.New("no handler registered for queue"))
		return
	}

	if err := h(ctx, job); err != nil {
		logger.Warn("job handler failed", "error", err)
		q.settleFailure(ctx, job, err)
		return
	}

	if _, err := q.db.Exec(ctx,
		`UPDATE queue_jobs
		 SET state = 'completed', completed_at = NOW()
		 WHERE id = $1`,
		job.ID,
	); err != nil {
		// The handler already ran; the reaper will eventually return the
		// stuck active row to pending and the handler must absorb the
		// duplicate (at-least-once contract).
		logger.Error("failed to mark job completed", "error", err)
		return
	}
	logger.Info("job completed")
}

// settleFailure either re-arms the job for a later retry or fails it
// permanently once the retry budget is spent.
func (q *Queue) settleFailure(ctx context.Context, job Job, cause error) {
	logger := q.logger.With("job_id", job.ID.String(), "queue", job.Queue)

	if job.RetryCount < job.RetryLimit {
		delay := q.policy.RetryDelay(job.RetryBackoff, job.RetryCount)
		if _, err := q.db.Exec(ctx,
			`UPDATE queue_jobs
			 SET state = 'created', retry_count = retry_count + 1,
			     start_after = NOW() + $2, last_error = $3, started_at = NULL
			 WHERE id = $1`,
			job.ID, delay, cause.Error(),
		); err != nil {
			logger.Error("failed to schedule job retry", "error", err)
			return
		}
		logger.Info("job scheduled for retry",
			"attempt", job.RetryCount+1,
			"retry_limit", job.RetryLimit,
			"delay", delay.String(),
		)
		return
	}

	if _, err := q.db.Exec(ctx,
		`UPDATE queue_jobs
		 SET state = 'failed', completed_at = NOW(), last_error = $2
		 WHERE id = $1`,
		job.ID, cause.Error(),
	); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}
	logger.Error("job failed permanently", "error", cause)
}

// reapStaleJobs returns active jobs whose visibility timeout has expired to
// the pending state. This is the crash-recovery half of the at-least-once
// contract: a process that died mid-job leaves an active row behind, and the
// next poller picks it up here.
func (q *Queue) reapStaleJobs(ctx context.Context) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE queue_jobs
		 SET state = 'created', started_at = NULL
		 WHERE state = 'active' AND started_at < NOW() - $1`,
		q.cfg.VisibilityTimeout,
	)
	if err != nil {
		return fmt.Errorf("reaping stale active jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		q.logger.Warn("returned stale active jobs to pending", "count", n)
	}
	return nil
}

// pruneFinishedJobs deletes completed and failed jobs older than the
// retention window. Pending and active jobs are never pruned.
func (q *Queue) pruneFinishedJobs(ctx context.Context) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM queue_jobs
		 WHERE state IN ('completed', 'failed') AND completed_at < NOW() - $1`,
		q.cfg.Retention,
	)
	if err != nil {
		return fmt.Errorf("pruning finished jobs: %w", err)
	}
	return nil
}

// scheduleRow is one due entry from queue_schedules.
type scheduleRow struct {
	Name     string
	Queue    string
	CronExpr string
}

// fireDueSchedules enqueues a job for every schedule whose next_run has
// passed, then advances next_run from the cron expression. The claim pushes
// next_run out by one poll interval in the same statement, the same idiom as
// the job claim: concurrent pollers skip the locked rows and later ticks see
// the schedule as not yet due, so a fire is never enqueued twice. A schedule
// with an unparseable expression is logged and pushed forward by one poll
// interval so it cannot hot-loop.
func (q *Queue) fireDueSchedules(ctx context.Context) error {
	rows, err := q.db.Query(ctx,
		`UPDATE queue_schedules
		 SET next_run = NOW() + $1
		 WHERE name IN (
		     SELECT name FROM queue_schedules
		     WHERE next_run <= NOW()
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING name, queue, cron_expr`,
		q.cfg.PollInterval,
	)
	if err != nil {
		return fmt.Errorf("claiming due schedules: %w", err)
	}

	var due []scheduleRow
	for rows.Next() {
		var s scheduleRow
		if err := rows.Scan(&s.Name, &s.Queue, &s.CronExpr); err != nil {
			rows.Close()
			return fmt.Errorf("scanning due schedule: %w", err)
		}
		due = append(due, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating due schedules: %w", err)
	}

	for _, s := range due {
		logger := q.logger.With("schedule", s.Name, "queue", s.Queue)

		if _, err := q.Send(ctx, s.Queue, nil, SendOptions{}); err != nil {
			// The claim only leased the schedule one poll interval ahead,
			// so it comes due again and the enqueue is retried.
			logger.Error("failed to enqueue scheduled job", "error", err)
			continue
		}

		next := q.nextRunAfter(s.CronExpr)
		if _, err := q.db.Exec(ctx,
			`UPDATE queue_schedules
			 SET last_run = NOW(), next_run = $2
			 WHERE name = $1`,
			s.Name, next,
		); err != nil {
			logger.Error("failed to advance schedule", "error", err)
			continue
		}
		logger.Info("schedule fired", "next_run", next.Format(time.RFC3339))
	}
	return nil
}

// nextRunAfter computes the next firing instant for a cron expression,
// falling back to one poll interval ahead when the stored expression no
// longer parses.
func (q *Queue) nextRunAfter(cronExpr string) time.Time {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		q.logger.Error("stored cron expression no longer parses", "cron_expr", cronExpr, "error", err)
		return q.now().UTC().Add(q.cfg.PollInterval)
	}
	return sched.Next(q.now().UTC())
}
