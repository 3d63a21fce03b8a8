package birthday

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrathbot/internal/queue"
	"wrathbot/internal/types"
)

// --- Fakes ---

type fakeDirectory struct {
	users  map[string]*types.User
	list   []types.User
	getErr error
	lsErr  error
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (*types.User, error) {
	if d.getErr != nil {
		return nil, d.getErr
	}
	u, ok := d.users[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return u, nil
}

func (d *fakeDirectory) ListSchedulable(_ context.Context) ([]types.User, error) {
	if d.lsErr != nil {
		return nil, d.lsErr
	}
	return d.list, nil
}

type sentJob struct {
	queue   string
	payload any
	opts    queue.SendOptions
}

type fakeQueue struct {
	mu        sync.Mutex
	ops       []string
	sent      []sentJob
	workers   map[string]queue.Handler
	schedules map[string]string

	sendErr     error
	deleteErr   error
	scheduleErr error
	coalesce    bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		workers:   make(map[string]queue.Handler),
		schedules: make(map[string]string),
	}
}

func (q *fakeQueue) Send(_ context.Context, queueName string, payload any, opts queue.SendOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return false, q.sendErr
	}
	q.ops = append(q.ops, "send:"+opts.SingletonKey)
	q.sent = append(q.sent, sentJob{queue: queueName, payload: payload, opts: opts})
	return !q.coalesce, nil
}

func (q *fakeQueue) DeletePending(_ context.Context, _, singletonKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.ops = append(q.ops, "delete:"+singletonKey)
	return nil
}

func (q *fakeQueue) RegisterWorker(queueName string, h queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.workers[queueName] = h
}

func (q *fakeQueue) Schedule(_ context.Context, name, _, cronExpr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.schedules[name] = cronExpr
	return nil
}

func (q *fakeQueue) sentJobs() []sentJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]sentJob(nil), q.sent...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *fakeNotifier) SendBirthdayMessage(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, userID)
	return nil
}

// --- Helpers ---

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func schedulableUser(userID, timezone string, birthday time.Time) *types.User {
	return &types.User{
		UserID:   userID,
		Timezone: strPtr(timezone),
		Birthday: timePtr(birthday),
	}
}

func newTestScheduler(dir *fakeDirectory, q *fakeQueue, n *fakeNotifier) *Scheduler {
	s := NewScheduler(dir, q, n, nil)
	s.now = func() time.Time {
		return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

// ============================================================
// ScheduleOne
// ============================================================

func TestScheduler_ScheduleOne_ArmsJob(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "Europe/Paris", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.ScheduleOne(context.Background(), "u1"))

	// Delete-before-insert, on the same key.
	assert.Equal(t, []string{"delete:birthday-u1", "send:birthday-u1"}, q.ops)

	require.Len(t, q.sent, 1)
	job := q.sent[0]
	assert.Equal(t, NotificationQueue, job.queue)
	assert.Equal(t, notificationPayload{UserID: "u1"}, job.payload)
	assert.Equal(t, "birthday-u1", job.opts.SingletonKey)
	assert.Equal(t, notifyRetryLimit, job.opts.RetryLimit)
	assert.True(t, job.opts.RetryBackoff)

	wantFire := time.Date(2026, 12, 31, 14, 30, 0, 0, paris)
	assert.True(t, job.opts.StartAfter.Equal(wantFire), "fire at %s, want %s",
		job.opts.StartAfter.Format(time.RFC3339), wantFire.Format(time.RFC3339))
}

func TestScheduler_ScheduleOne_SkipsIncompleteSetup(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": {UserID: "u1", Timezone: strPtr("Europe/Paris")}, // no birthday yet
	}}
	q := newFakeQueue()
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.ScheduleOne(context.Background(), "u1"))
	assert.Empty(t, q.ops)
}

func TestScheduler_ScheduleOne_SkipsUnresolvableZone(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "Mars/Olympus", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.ScheduleOne(context.Background(), "u1"))
	assert.Empty(t, q.ops)
}

func TestScheduler_ScheduleOne_DirectoryError(t *testing.T) {
	dir := &fakeDirectory{getErr: errors.New("connection refused")}
	s := newTestScheduler(dir, newFakeQueue(), &fakeNotifier{})

	require.Error(t, s.ScheduleOne(context.Background(), "u1"))
}

func TestScheduler_ScheduleOne_SendError(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "UTC", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	q.sendErr = errors.New("connection refused")
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.Error(t, s.ScheduleOne(context.Background(), "u1"))
}

func TestScheduler_ScheduleOne_CoalescedIsNotAnError(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "UTC", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	q.coalesce = true
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.ScheduleOne(context.Background(), "u1"))
}

// ============================================================
// ReconcileAll
// ============================================================

func TestScheduler_ReconcileAll_IsolatesBrokenMembers(t *testing.T) {
	good1 := schedulableUser("u1", "Europe/Paris", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC))
	badZone := schedulableUser("u2", "Mars/Olympus", time.Date(1991, 4, 2, 8, 0, 0, 0, time.UTC))
	good2 := schedulableUser("u3", "UTC", time.Date(1992, 8, 20, 10, 0, 0, 0, time.UTC))

	dir := &fakeDirectory{
		users: map[string]*types.User{"u1": good1, "u2": badZone, "u3": good2},
		// u4 is in the directory listing but its record read fails.
		list: []types.User{*good1, *badZone, *good2, {UserID: "u4"}},
	}
	q := newFakeQueue()
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.ReconcileAll(context.Background()))

	keys := make(map[string]bool)
	for _, job := range q.sentJobs() {
		keys[job.opts.SingletonKey] = true
	}
	assert.Equal(t, map[string]bool{"birthday-u1": true, "birthday-u3": true}, keys)
}

func TestScheduler_ReconcileAll_ListError(t *testing.T) {
	dir := &fakeDirectory{lsErr: errors.New("connection refused")}
	s := newTestScheduler(dir, newFakeQueue(), &fakeNotifier{})

	require.Error(t, s.ReconcileAll(context.Background()))
}

// ============================================================
// HandleFire
// ============================================================

func fireJob(t *testing.T, userID string) queue.Job {
	t.Helper()
	body, err := json.Marshal(notificationPayload{UserID: userID})
	require.NoError(t, err)
	return queue.Job{Queue: NotificationQueue, Payload: body}
}

func TestScheduler_HandleFire_DeliversAndRearms(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "Europe/Paris", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	n := &fakeNotifier{}
	s := newTestScheduler(dir, q, n)

	require.NoError(t, s.HandleFire(context.Background(), fireJob(t, "u1")))

	assert.Equal(t, []string{"u1"}, n.calls)
	// The member is re-armed for next year after delivery.
	assert.Equal(t, []string{"delete:birthday-u1", "send:birthday-u1"}, q.ops)
}

func TestScheduler_HandleFire_SendFailureStillRearms(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "UTC", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	n := &fakeNotifier{err: errors.New("discord unavailable")}
	s := newTestScheduler(dir, q, n)

	// Delivery is best-effort: the job completes and the member is re-armed
	// for next year even when the send failed. Re-delivering would risk a
	// duplicate message when the failure was ambiguous.
	require.NoError(t, s.HandleFire(context.Background(), fireJob(t, "u1")))
	assert.Empty(t, n.calls)
	assert.Equal(t, []string{"delete:birthday-u1", "send:birthday-u1"}, q.ops)
}

func TestScheduler_HandleFire_RearmFailureIsNotRetried(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*types.User{
		"u1": schedulableUser("u1", "UTC", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC)),
	}}
	q := newFakeQueue()
	q.deleteErr = errors.New("connection refused")
	n := &fakeNotifier{}
	s := newTestScheduler(dir, q, n)

	// The message went out; failing the job would deliver it again.
	require.NoError(t, s.HandleFire(context.Background(), fireJob(t, "u1")))
	assert.Equal(t, []string{"u1"}, n.calls)
}

func TestScheduler_HandleFire_BadPayload(t *testing.T) {
	s := newTestScheduler(&fakeDirectory{}, newFakeQueue(), &fakeNotifier{})

	err := s.HandleFire(context.Background(), queue.Job{Payload: []byte("not json")})
	require.Error(t, err)
}

// ============================================================
// Start
// ============================================================

func TestScheduler_Start_WiresWorkersScheduleAndColdStart(t *testing.T) {
	user := schedulableUser("u1", "UTC", time.Date(1990, 12, 31, 14, 30, 0, 0, time.UTC))
	dir := &fakeDirectory{
		users: map[string]*types.User{"u1": user},
		list:  []types.User{*user},
	}
	q := newFakeQueue()
	s := newTestScheduler(dir, q, &fakeNotifier{})

	require.NoError(t, s.Start(context.Background()))

	assert.Contains(t, q.workers, NotificationQueue)
	assert.Contains(t, q.workers, CheckQueue)
	assert.Equal(t, "0 0 * * *", q.schedules[CheckQueue])

	// Cold-start reconciliation armed the member.
	require.Len(t, q.sentJobs(), 1)

	// The daily check handler runs a full reconciliation.
	require.NoError(t, q.workers[CheckQueue](context.Background(), queue.Job{Queue: CheckQueue}))
	assert.Len(t, q.sentJobs(), 2)
}

func TestScheduler_Start_ScheduleError(t *testing.T) {
	q := newFakeQueue()
	q.scheduleErr = errors.New("connection refused")
	s := newTestScheduler(&fakeDirectory{}, q, &fakeNotifier{})

	require.Error(t, s.Start(context.Background()))
}
