package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// jobRows implements pgx.Rows for the claim query in dispatchDueJobs.
type jobRows struct {
	data []Job
	idx  int
}

func (r *jobRows) Next() bool {
	r.idx++
	return r.idx <= len(r.data)
}

func (r *jobRows) Scan(dest ...any) error {
	j := r.data[r.idx-1]
	*dest[0].(*uuid.UUID) = j.ID
	*dest[1].(*string) = j.Queue
	*dest[2].(*json.RawMessage) = j.Payload
	*dest[3].(**string) = j.SingletonKey
	*dest[4].(*int) = j.RetryCount
	*dest[5].(*int) = j.RetryLimit
	*dest[6].(*bool) = j.RetryBackoff
	*dest[7].(*time.Time) = j.StartAfter
	return nil
}

func (r *jobRows) Close()                                       {}
func (r *jobRows) Err() error                                   { return nil }
func (r *jobRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *jobRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *jobRows) RawValues() [][]byte                          { return nil }
func (r *jobRows) Values() ([]any, error)                       { return nil, nil }
func (r *jobRows) Conn() *pgx.Conn                              { return nil }

// scheduleRows implements pgx.Rows for fireDueSchedules.
type scheduleRows struct {
	data []scheduleRow
	idx  int
}

func (r *scheduleRows) Next() bool {
	r.idx++
	return r.idx <= len(r.data)
}

func (r *scheduleRows) Scan(dest ...any) error {
	s := r.data[r.idx-1]
	*dest[0].(*string) = s.Name
	*dest[1].(*string) = s.Queue
	*dest[2].(*string) = s.CronExpr
	return nil
}

func (r *scheduleRows) Close()                                       {}
func (r *scheduleRows) Err() error                                   { return nil }
func (r *scheduleRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *scheduleRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *scheduleRows) RawValues() [][]byte                          { return nil }
func (r *scheduleRows) Values() ([]any, error)                       { return nil, nil }
func (r *scheduleRows) Conn() *pgx.Conn                              { return nil }

// sqlContaining matches the SQL argument of an expectation by substring.
func sqlContaining(substr string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, substr)
	})
}

// ============================================================
// runJob
// ============================================================

func TestQueue_RunJob_Success(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	var handled atomic.Int32
	q.RegisterWorker("birthday-notifications", func(ctx context.Context, job Job) error {
		handled.Add(1)
		var payload struct {
			UserID string `json:"user_id"`
		}
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		assert.Equal(t, "u1", payload.UserID)
		return nil
	})

	job := Job{
		ID:      uuid.New(),
		Queue:   "birthday-notifications",
		Payload: json.RawMessage(`{"user_id":"u1"}`),
	}

	dbm.On("Exec", ctx, sqlContaining("state = 'completed'"), []any{job.ID}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	q.runJob(ctx, job)
	assert.Equal(t, int32(1), handled.Load())
	dbm.AssertExpectations(t)
}

func TestQueue_RunJob_FailureSchedulesRetry(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	q.RegisterWorker("birthday-notifications", func(ctx context.Context, job Job) error {
		return errors.New("discord unavailable")
	})

	job := Job{
		ID:           uuid.New(),
		Queue:        "birthday-notifications",
		Payload:      json.RawMessage(`{}`),
		RetryCount:   1,
		RetryLimit:   3,
		RetryBackoff: true,
	}

	// Retry 1 -> delay 30s * 2^1 = 1m.
	dbm.On("Exec", ctx, sqlContaining("retry_count = retry_count + 1"),
		[]any{job.ID, time.Minute, "discord unavailable"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	q.runJob(ctx, job)
	dbm.AssertExpectations(t)
}

func TestQueue_RunJob_RetryUpdateFailureIsNotReportedAsScheduled(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	var logs bytes.Buffer
	q.logger = slog.New(slog.NewTextHandler(&logs, nil))
	ctx := context.Background()

	q.RegisterWorker("birthday-notifications", func(ctx context.Context, job Job) error {
		return errors.New("discord unavailable")
	})

	job := Job{
		ID:           uuid.New(),
		Queue:        "birthday-notifications",
		Payload:      json.RawMessage(`{}`),
		RetryCount:   1,
		RetryLimit:   3,
		RetryBackoff: true,
	}

	dbm.On("Exec", ctx, sqlContaining("retry_count = retry_count + 1"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	q.runJob(ctx, job)
	dbm.AssertExpectations(t)
	// The row was never re-armed, so the logs must say the retry failed, not
	// that it was scheduled.
	assert.Contains(t, logs.String(), "failed to schedule job retry")
	assert.NotContains(t, logs.String(), "job scheduled for retry")
}

func TestQueue_RunJob_RetryBudgetExhausted(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	q.RegisterWorker("birthday-notifications", func(ctx context.Context, job Job) error {
		return errors.New("still failing")
	})

	job := Job{
		ID:         uuid.New(),
		Queue:      "birthday-notifications",
		Payload:    json.RawMessage(`{}`),
		RetryCount: 3,
		RetryLimit: 3,
	}

	dbm.On("Exec", ctx, sqlContaining("state = 'failed'"), []any{job.ID, "still failing"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	q.runJob(ctx, job)
	dbm.AssertExpectations(t)
}

func TestQueue_RunJob_NoHandlerFailsJob(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	job := Job{
		ID:      uuid.New(),
		Queue:   "nobody-home",
		Payload: json.RawMessage(`{}`),
	}

	dbm.On("Exec", ctx, sqlContaining("state = 'failed'"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	q.runJob(ctx, job)
	dbm.AssertExpectations(t)
}

// ============================================================
// dispatchDueJobs
// ============================================================

func TestQueue_DispatchDueJobs_RunsAllClaimed(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	var handled atomic.Int32
	q.RegisterWorker("birthday-notifications", func(ctx context.Context, job Job) error {
		handled.Add(1)
		return nil
	})

	jobs := []Job{
		{ID: uuid.New(), Queue: "birthday-notifications", Payload: json.RawMessage(`{"user_id":"u1"}`)},
		{ID: uuid.New(), Queue: "birthday-notifications", Payload: json.RawMessage(`{"user_id":"u2"}`)},
		{ID: uuid.New(), Queue: "birthday-notifications", Payload: json.RawMessage(`{"user_id":"u3"}`)},
	}

	dbm.On("Query", ctx, sqlContaining("FOR UPDATE SKIP LOCKED"), []any{claimBatchSize}).
		Return(&jobRows{data: jobs}, nil)
	dbm.On("Exec", mock.Anything, sqlContaining("state = 'completed'"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Times(3)

	err := q.dispatchDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), handled.Load())
	dbm.AssertExpectations(t)
}

func TestQueue_DispatchDueJobs_NoDueJobs(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	dbm.On("Query", ctx, sqlContaining("FOR UPDATE SKIP LOCKED"), []any{claimBatchSize}).
		Return(&jobRows{}, nil)

	require.NoError(t, q.dispatchDueJobs(ctx))
}

// ============================================================
// fireDueSchedules
// ============================================================

func TestQueue_FireDueSchedules_EnqueuesAndAdvances(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm) // now = 2026-06-01T10:30Z

	ctx := context.Background()
	due := []scheduleRow{{Name: "birthday-check", Queue: "birthday-check", CronExpr: "0 0 * * *"}}

	// The claim leases the due schedule one poll interval ahead in a single
	// statement, so a concurrent poller cannot fire it again.
	dbm.On("Query", ctx, sqlContaining("UPDATE queue_schedules"), []any{q.cfg.PollInterval}).
		Return(&scheduleRows{data: due}, nil)
	// The fired schedule enqueues one job...
	dbm.On("Exec", ctx, sqlContaining("INSERT INTO queue_jobs"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	// ...and advances next_run to the following midnight.
	wantNext := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	dbm.On("Exec", ctx, sqlContaining("SET last_run = NOW()"), []any{"birthday-check", wantNext}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, q.fireDueSchedules(ctx))
	dbm.AssertExpectations(t)
}

func TestQueue_FireDueSchedules_EnqueueFailureLeavesScheduleDue(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	due := []scheduleRow{{Name: "birthday-check", Queue: "birthday-check", CronExpr: "0 0 * * *"}}

	dbm.On("Query", ctx, sqlContaining("UPDATE queue_schedules"), []any{q.cfg.PollInterval}).
		Return(&scheduleRows{data: due}, nil)
	dbm.On("Exec", ctx, sqlContaining("INSERT INTO queue_jobs"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))
	// No last_run advance: the claim only leased the schedule one poll
	// interval ahead, so it comes due again and the enqueue is retried.

	require.NoError(t, q.fireDueSchedules(ctx))
	dbm.AssertExpectations(t)
}

// ============================================================
// reap / prune
// ============================================================

func TestQueue_ReapStaleJobs(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	dbm.On("Exec", ctx, sqlContaining("state = 'active'"), []any{q.cfg.VisibilityTimeout}).
		Return(pgconn.NewCommandTag("UPDATE 2"), nil)

	require.NoError(t, q.reapStaleJobs(ctx))
	dbm.AssertExpectations(t)
}

func TestQueue_PruneFinishedJobs(t *testing.T) {
	dbm := new(mockDBTX)
	q := newTestQueue(dbm)
	ctx := context.Background()

	dbm.On("Exec", ctx, sqlContaining("DELETE FROM queue_jobs"), []any{q.cfg.Retention}).
		Return(pgconn.NewCommandTag("DELETE 5"), nil)

	require.NoError(t, q.pruneFinishedJobs(ctx))
	dbm.AssertExpectations(t)
}
