package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeStore is an in-memory job store implementing the scheduler's Store
// contract with the same claim and transition semantics as the database.
type fakeStore struct {
	clock *fakeClock
	jobs  map[string]*models.Job
	order []string
	swept int
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{clock: clock, jobs: make(map[string]*models.Job)}
}

func (s *fakeStore) add(jobType types.JobType, payload json.RawMessage, maxAttempts int) *models.Job {
	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Status:      types.JobStatusPending,
		MaxAttempts: maxAttempts,
		ScheduledAt: s.clock.Now(),
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job
}

func (s *fakeStore) ClaimBatch(ctx context.Context, n int) ([]*models.Job, error) {
	var claimed []*models.Job
	for _, id := range s.order {
		if len(claimed) >= n {
			break
		}
		job := s.jobs[id]
		if job.Status != types.JobStatusPending || job.ScheduledAt.After(s.clock.Now()) || job.Attempts >= job.MaxAttempts {
			continue
		}
		job.Status = types.JobStatusProcessing
		job.Attempts++
		copied := *job
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, jobID string, note *string) error {
	return s.transition(jobID, types.JobStatusCompleted, note, nil)
}

func (s *fakeStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	return s.transition(jobID, types.JobStatusFailed, &errMsg, nil)
}

func (s *fakeStore) Requeue(ctx context.Context, jobID, errMsg string, runAt time.Time) error {
	return s.transition(jobID, types.JobStatusPending, &errMsg, &runAt)
}

func (s *fakeStore) transition(jobID string, status types.JobStatus, msg *string, runAt *time.Time) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Status != types.JobStatusProcessing {
		return fmt.Errorf("job %s not processing", jobID)
	}
	job.Status = status
	job.LastError = msg
	if runAt != nil {
		job.ScheduledAt = *runAt
	}
	return nil
}

func (s *fakeStore) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	s.swept++
	return 0, nil
}

// recordingHandler returns scripted results per call.
type recordingHandler struct {
	jobType types.JobType
	note    string
	errs    []error
	calls   int
	panics  bool
}

func (h *recordingHandler) Type() types.JobType { return h.jobType }

func (h *recordingHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	h.calls++
	if h.panics {
		panic("handler exploded")
	}
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return "", err
	}
	return h.note, nil
}

func newTestScheduler(store *fakeStore, clock *fakeClock) *Scheduler {
	return NewScheduler(store, SchedulerConfig{
		BatchSize:      10,
		MaxRunTime:     5 * time.Minute,
		BackoffUnit:    5 * time.Minute,
		StaleThreshold: 15 * time.Minute,
		BatchesPerSec:  1000,
	}, clock, nil)
}

func TestSchedulerCompletesJob(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeNotification, mustPayload(t, NotificationPayload{To: "a@b.c", Subject: "hi"}), 3)

	handler := &recordingHandler{jobType: types.JobTypeNotification, note: "sent to a@b.c"}
	scheduler := newTestScheduler(store, clock)
	scheduler.Register(handler)

	processed, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, 1, store.swept)

	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "sent to a@b.c", *stored.LastError)
}

func TestSchedulerRetriesWithLinearBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeNotification, mustPayload(t, NotificationPayload{To: "a@b.c", Subject: "hi"}), 3)

	handler := &recordingHandler{
		jobType: types.JobTypeNotification,
		errs:    []error{fmt.Errorf("send failed"), fmt.Errorf("send failed"), fmt.Errorf("send failed")},
	}
	scheduler := newTestScheduler(store, clock)
	scheduler.Register(handler)

	start := clock.Now()

	// First attempt fails and requeues 1 backoff unit out.
	_, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)
	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, start.Add(5*time.Minute), stored.ScheduledAt)

	// Not due yet: nothing runs.
	processed, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	// Second attempt fails and backs off 2 units from its own run time.
	clock.Advance(5 * time.Minute)
	secondRun := clock.Now()
	_, err = scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, secondRun.Add(10*time.Minute), stored.ScheduledAt)
	assert.True(t, stored.ScheduledAt.After(start.Add(5*time.Minute)), "next run times must be monotonic")

	// Third attempt exhausts the budget and fails permanently.
	clock.Advance(10 * time.Minute)
	_, err = scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "send failed")

	// A failed job is never claimed again.
	clock.Advance(time.Hour)
	processed, err = scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 3, handler.calls)
}

func TestSchedulerMalformedPayloadIsTerminal(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeNotification, json.RawMessage(`{"subject":"no recipient"}`), 3)

	sender := &stubSender{}
	scheduler := newTestScheduler(store, clock)
	scheduler.Register(NewNotificationHandler(sender, nil))

	_, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)

	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts, "malformed payloads must not burn retries")
	assert.Equal(t, 0, sender.calls)
}

func TestSchedulerNoHandlerFailsTerminally(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeReport, json.RawMessage(`{}`), 3)

	scheduler := newTestScheduler(store, clock)

	_, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)

	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "no handler registered")
}

func TestSchedulerRecoversHandlerPanic(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeNotification, mustPayload(t, NotificationPayload{To: "a@b.c", Subject: "hi"}), 3)

	handler := &recordingHandler{jobType: types.JobTypeNotification, panics: true}
	scheduler := newTestScheduler(store, clock)
	scheduler.Register(handler)

	_, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)

	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "handler panic")
}

func TestSchedulerStopsAtRunTimeBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	for i := 0; i < 5; i++ {
		store.add(types.JobTypeNotification, mustPayload(t, NotificationPayload{To: "a@b.c", Subject: "hi"}), 3)
	}

	// Every handled job pushes the clock past the budget.
	handler := &advanceClockHandler{clock: clock, step: 6 * time.Minute}
	scheduler := NewScheduler(store, SchedulerConfig{
		BatchSize:      1,
		MaxRunTime:     5 * time.Minute,
		BackoffUnit:    5 * time.Minute,
		StaleThreshold: 15 * time.Minute,
		BatchesPerSec:  1000,
	}, clock, nil)
	scheduler.Register(handler)

	processed, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "budget must stop the pass before the next claim")
}

type advanceClockHandler struct {
	clock *fakeClock
	step  time.Duration
}

func (h *advanceClockHandler) Type() types.JobType { return types.JobTypeNotification }

func (h *advanceClockHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	h.clock.Advance(h.step)
	return "", nil
}

func TestSchedulerTerminalDomainErrorFailsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock)
	job := store.add(types.JobTypeNotification, mustPayload(t, NotificationPayload{To: "a@b.c", Subject: "hi"}), 5)

	handler := &recordingHandler{
		jobType: types.JobTypeNotification,
		errs:    []error{apperrors.NewMalformedPayload("unusable")},
	}
	scheduler := newTestScheduler(store, clock)
	scheduler.Register(handler)

	_, err := scheduler.RunPending(context.Background())
	require.NoError(t, err)

	stored := store.jobs[job.ID]
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func mustPayload(t *testing.T, payload interface{}) json.RawMessage {
	t.Helper()
	data, err := MarshalPayload(payload)
	require.NoError(t, err)
	return data
}
