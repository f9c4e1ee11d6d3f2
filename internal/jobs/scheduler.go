// Package jobs implements the claim-based background job scheduler and its
// typed handlers.
package jobs

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"golang.org/x/time/rate"
)

// Store is the job persistence contract the scheduler runs against.
// Implemented by storage.JobRepository.
type Store interface {
	ClaimBatch(ctx context.Context, n int) ([]*models.Job, error)
	MarkCompleted(ctx context.Context, jobID string, note *string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	Requeue(ctx context.Context, jobID, errMsg string, runAt time.Time) error
	SweepStale(ctx context.Context, threshold time.Duration) (int64, error)
}

// Handler processes one job type. The returned note, if non-empty, is
// retained on the completed job for operator inspection.
type Handler interface {
	Type() types.JobType
	Handle(ctx context.Context, job *models.Job) (note string, err error)
}

// SchedulerConfig holds scheduler tuning.
type SchedulerConfig struct {
	BatchSize      int
	MaxRunTime     time.Duration
	BackoffUnit    time.Duration
	StaleThreshold time.Duration
	BatchesPerSec  float64
}

// Scheduler claims due jobs in batches and dispatches them to registered
// handlers, translating handler outcomes into job state transitions.
// Handler errors never propagate out of a worker pass: a single bad job
// cannot halt the loop.
type Scheduler struct {
	store    Store
	handlers map[types.JobType]Handler
	limiter  *rate.Limiter
	clock    Clock
	cfg      SchedulerConfig
	logger   *logging.Logger
}

// NewScheduler creates a scheduler with the given store and configuration.
func NewScheduler(store Store, cfg SchedulerConfig, clock Clock, logger *logging.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRunTime <= 0 {
		cfg.MaxRunTime = 5 * time.Minute
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 15 * time.Minute
	}
	if cfg.BatchesPerSec <= 0 {
		cfg.BatchesPerSec = 10
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Scheduler{
		store:    store,
		handlers: make(map[types.JobType]Handler),
		limiter:  rate.NewLimiter(rate.Limit(cfg.BatchesPerSec), 1),
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Register installs a handler for its job type, replacing any previous one.
func (s *Scheduler) Register(h Handler) {
	s.handlers[h.Type()] = h
}

// RunPending runs one worker pass: requeue stale processing jobs, then
// claim and run due jobs until none remain or the wall-clock budget is
// exhausted. It returns the number of jobs run. The pass is re-invoked on
// a fixed interval by the worker entry point rather than looping forever.
func (s *Scheduler) RunPending(ctx context.Context) (int, error) {
	swept, err := s.store.SweepStale(ctx, s.cfg.StaleThreshold)
	if err != nil {
		return 0, fmt.Errorf("stale job sweep failed: %w", err)
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Warn("requeued stale processing jobs")
	}

	deadline := s.clock.Now().Add(s.cfg.MaxRunTime)
	processed := 0

	for s.clock.Now().Before(deadline) {
		if err := s.limiter.Wait(ctx); err != nil {
			return processed, err
		}

		batch, err := s.store.ClaimBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			return processed, fmt.Errorf("claim batch failed: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, job := range batch {
			s.runJob(ctx, job)
			processed++
		}
	}

	return processed, nil
}

// runJob dispatches one claimed job and applies the resulting transition.
func (s *Scheduler) runJob(ctx context.Context, job *models.Job) {
	logger := s.logger.WithFields(map[string]interface{}{
		"jobId":    job.ID,
		"jobType":  string(job.Type),
		"attempts": job.Attempts,
	})

	handler, ok := s.handlers[job.Type]
	if !ok {
		// Closed type set: an unregistered type cannot succeed on retry.
		logger.Error("no handler registered for job type")
		s.transition(logger, func() error {
			return s.store.MarkFailed(ctx, job.ID, fmt.Sprintf("no handler registered for job type %s", job.Type))
		})
		return
	}

	note, err := s.safeHandle(ctx, handler, job)
	if err == nil {
		var notePtr *string
		if note != "" {
			notePtr = &note
		}
		s.transition(logger, func() error {
			return s.store.MarkCompleted(ctx, job.ID, notePtr)
		})
		logger.Info("job completed")
		return
	}

	if apperrors.IsTerminal(err) {
		s.transition(logger, func() error {
			return s.store.MarkFailed(ctx, job.ID, err.Error())
		})
		logger.WithError(err).Error("job failed with non-retryable error")
		return
	}

	if job.Attempts >= job.MaxAttempts {
		s.transition(logger, func() error {
			return s.store.MarkFailed(ctx, job.ID, err.Error())
		})
		logger.WithError(err).Error("job failed permanently after max attempts")
		return
	}

	// Linear backoff scaled by attempt count.
	runAt := s.clock.Now().Add(time.Duration(job.Attempts) * s.cfg.BackoffUnit)
	s.transition(logger, func() error {
		return s.store.Requeue(ctx, job.ID, err.Error(), runAt)
	})
	logger.WithError(err).WithField("nextRun", runAt).Warn("job requeued for retry")
}

// safeHandle invokes the handler, converting a panic into a handler error
// so a broken handler cannot take down the worker.
func (s *Scheduler) safeHandle(ctx context.Context, handler Handler, job *models.Job) (note string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

// transition applies a state change, logging rather than propagating its
// failure; the stale sweep recovers jobs whose transitions were lost.
func (s *Scheduler) transition(logger *logging.Logger, fn func() error) {
	if err := fn(); err != nil {
		logger.WithError(err).Error("job state transition failed")
	}
}
