package birthday

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"wrathbot/internal/queue"
	"wrathbot/internal/types"
)

const (
	// NotificationQueue carries the one-shot per-member birthday jobs.
	NotificationQueue = "birthday-notifications"
	// CheckQueue carries the daily full reconciliation job.
	CheckQueue = "birthday-check"

	// checkCron fires the reconciliation at midnight UTC every day.
	checkCron = "0 0 * * *"

	// notifyRetryLimit bounds queue-level redelivery of a birthday job
	// whose handler errored, such as an undecodable payload. Delivery
	// failures are absorbed inside the handler and never spend this budget.
	notifyRetryLimit = 3

	// reconcileConcurrency bounds the fan-out of a full reconciliation.
	reconcileConcurrency = 8
)

// SingletonKey returns the queue dedupe key for a member's birthday job.
func SingletonKey(userID string) string {
	return "birthday-" + userID
}

// UserDirectory is the slice of the user repository the scheduler reads.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	ListSchedulable(ctx context.Context) ([]types.User, error)
}

// JobQueue is the slice of the durable queue the scheduler drives.
type JobQueue interface {
	Send(ctx context.Context, queueName string, payload any, opts queue.SendOptions) (bool, error)
	DeletePending(ctx context.Context, queueName, singletonKey string) error
	RegisterWorker(queueName string, h queue.Handler)
	Schedule(ctx context.Context, name, queueName, cronExpr string) error
}

// Notifier delivers the celebratory message when a birthday job fires.
type Notifier interface {
	SendBirthdayMessage(ctx context.Context, userID string) error
}

// notificationPayload is the body of a birthday job.
type notificationPayload struct {
	UserID string `json:"user_id"`
}

// Scheduler keeps one pending birthday job armed per schedulable member.
type Scheduler struct {
	directory UserDirectory
	queue     JobQueue
	notifier  Notifier
	logger    *slog.Logger

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewScheduler creates a birthday scheduler over the given directory, queue
// and notifier.
func NewScheduler(directory UserDirectory, jobQueue JobQueue, notifier Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		directory: directory,
		queue:     jobQueue,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Start wires the scheduler into the queue: the notification worker, the
// reconciliation worker with its persisted daily schedule, and a cold-start
// reconciliation that picks up occurrences that came due while the process
// was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.queue.RegisterWorker(NotificationQueue, s.HandleFire)
	s.queue.RegisterWorker(CheckQueue, func(ctx context.Context, _ queue.Job) error {
		return s.ReconcileAll(ctx)
	})

	if err := s.queue.Schedule(ctx, CheckQueue, CheckQueue, checkCron); err != nil {
		return fmt.Errorf("registering daily birthday check: %w", err)
	}

	return s.ReconcileAll(ctx)
}

// ScheduleOne re-derives and re-arms the pending birthday job for one member.
// Members without a complete birthday setup, or whose stored zone no longer
// resolves, are skipped without error. Delete-before-insert keeps at most one
// pending job per member even when schedule, fire and reconciliation overlap.
func (s *Scheduler) ScheduleOne(ctx context.Context, userID string) error {
	logger := s.logger.With("user_id", userID)

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user for birthday scheduling: %w", err)
	}
	if !user.Schedulable() {
		logger.Debug("member has no complete birthday setup, nothing to arm")
		return nil
	}

	loc, err := time.LoadLocation(*user.Timezone)
	if err != nil {
		logger.Warn("stored timezone no longer resolves, skipping member",
			"timezone", *user.Timezone, "error", err)
		return nil
	}

	next, err := NextOccurrence(*user.Birthday, loc, s.now())
	if err != nil {
		logger.Warn("could not derive next birthday occurrence, skipping member", "error", err)
		return nil
	}

	key := SingletonKey(userID)
	if err := s.queue.DeletePending(ctx, NotificationQueue, key); err != nil {
		return fmt.Errorf("clearing pending birthday job: %w", err)
	}

	inserted, err := s.queue.Send(ctx, NotificationQueue, notificationPayload{UserID: userID}, queue.SendOptions{
		SingletonKey: key,
		StartAfter:   next,
		RetryLimit:   notifyRetryLimit,
		RetryBackoff: true,
	})
	if err != nil {
		return fmt.Errorf("arming birthday job: %w", err)
	}
	if !inserted {
		// A concurrent scheduler won the race between delete and insert. Both
		// derived the occurrence from the same clock, so the surviving job is
		// just as good.
		logger.Debug("birthday job already pending")
		return nil
	}

	logger.Info("birthday armed",
		"fire_at", next.Format(time.RFC3339),
		"timezone", *user.Timezone,
	)
	return nil
}

// ReconcileAll re-arms every schedulable member. Per-member failures are
// logged and skipped; one broken record never aborts the sweep.
func (s *Scheduler) ReconcileAll(ctx context.Context) error {
	users, err := s.directory.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("listing schedulable members: %w", err)
	}

	var failed atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, user := range users {
		g.Go(func() error {
			if err := s.ScheduleOne(gCtx, user.UserID); err != nil {
				failed.Add(1)
				s.logger.Error("failed to arm member birthday", "user_id", user.UserID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("birthday reconciliation finished",
		"members", len(users),
		"failed", failed.Load(),
	)
	return nil
}

// HandleFire processes one fired birthday job: attempt the delivery, then
// re-arm the member for next year. Delivery is best-effort — a send failure
// is logged, never returned, because an ambiguous failure (a timeout after
// the message actually posted) re-delivered by the queue would spam the
// channel. The re-arm runs unconditionally; when it fails the daily
// reconciliation repairs it.
func (s *Scheduler) HandleFire(ctx context.Context, job queue.Job) error {
	var payload notificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decoding birthday job payload: %w", err)
	}
	logger := s.logger.With("user_id", payload.UserID)

	if err := s.notifier.SendBirthdayMessage(ctx, payload.UserID); err != nil {
		logger.Error("failed to deliver birthday message", "error", err)
	} else {
		logger.Info("birthday message delivered")
	}

	if err := s.ScheduleOne(ctx, payload.UserID); err != nil {
		logger.Error("failed to re-arm birthday after delivery", "error", err)
	}
	return nil
}
