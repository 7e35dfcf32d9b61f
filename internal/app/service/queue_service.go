package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"product-data-service/internal/domain"
	"product-data-service/pkg/locker"
)

// processLockKey serializes queue sweeps across instances.
const processLockKey = "queue:process:lock"

// QueueConfig holds background queue settings.
type QueueConfig struct {
	// BatchSize bounds how many due jobs one sweep picks up.
	BatchSize int

	// StaleTimeout is how long a job may sit in processing before a
	// sweep reclaims it from a presumed-dead worker. Doubles as the
	// process lock TTL.
	StaleTimeout time.Duration

	// Retention is how long terminal jobs and request logs are kept.
	Retention time.Duration

	// DefaultMaxRetries applies to jobs enqueued without an explicit
	// retry budget.
	DefaultMaxRetries int
}

func (c *QueueConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
}

// HandlerFunc executes one job action. The returned map is persisted
// as the job result.
type HandlerFunc func(ctx context.Context, job *domain.Job) (map[string]any, error)

// QueueService manages the durable background job queue: enqueueing,
// locked sweep processing with retry backoff, batch bookkeeping and
// retention cleanup.
type QueueService struct {
	repo   domain.JobRepository
	logs   domain.RequestLogRepository
	locker locker.DistributedLocker
	cfg    QueueConfig
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	triggerC chan struct{}

	now func() time.Time
}

// NewQueueService creates the queue service. The request log
// repository may be nil; cleanup then skips log retention.
func NewQueueService(repo domain.JobRepository, logs domain.RequestLogRepository, lk locker.DistributedLocker, cfg QueueConfig, logger *zap.Logger) *QueueService {
	cfg.defaults()

	return &QueueService{
		repo:     repo,
		logs:     logs,
		locker:   lk,
		cfg:      cfg,
		logger:   logger,
		handlers: map[string]HandlerFunc{},
		triggerC: make(chan struct{}, 1),
		now:      time.Now,
	}
}

// RegisterHandler installs the executor for an action. Enqueueing an
// action with no handler fails at processing time, not enqueue time.
func (s *QueueService) RegisterHandler(action string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[action] = h
	s.mu.Unlock()
}

// TriggerC signals when a high-priority job wants an immediate sweep.
// The scheduler selects on it alongside its ticker.
func (s *QueueService) TriggerC() <-chan struct{} {
	return s.triggerC
}

// JobOptions carries the optional enqueue parameters.
type JobOptions struct {
	Provider   string
	Priority   int
	MaxRetries int
	Delay      time.Duration
	BatchID    string
}

// Add enqueues one job. Jobs at high priority or above nudge the
// scheduler for an immediate sweep instead of waiting for the ticker.
func (s *QueueService) Add(ctx context.Context, action string, payload map[string]any, opts JobOptions) (*domain.Job, error) {
	if action == "" {
		return nil, fmt.Errorf("job action is required")
	}

	priority := opts.Priority
	if priority <= 0 {
		priority = domain.PriorityNormal
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}

	job := &domain.Job{
		Action:      action,
		Payload:     payload,
		Provider:    opts.Provider,
		BatchID:     opts.BatchID,
		Priority:    priority,
		Status:      domain.JobStatusPending,
		MaxRetries:  maxRetries,
		ScheduledAt: s.now().UTC().Add(opts.Delay),
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.logger.Debug("job enqueued",
		zap.Int64("job_id", job.ID),
		zap.String("action", action),
		zap.Int("priority", priority),
	)

	if priority >= domain.PriorityHigh && opts.Delay <= 0 {
		s.nudge()
	}

	return job, nil
}

// AddBulk enqueues one job per payload under a fresh batch id.
func (s *QueueService) AddBulk(ctx context.Context, action string, payloads []map[string]any, opts JobOptions) (string, []*domain.Job, error) {
	if len(payloads) == 0 {
		return "", nil, fmt.Errorf("bulk enqueue requires at least one payload")
	}

	batchID := uuid.NewString()
	opts.BatchID = batchID

	jobs := make([]*domain.Job, 0, len(payloads))
	for _, payload := range payloads {
		job, err := s.Add(ctx, action, payload, opts)
		if err != nil {
			return batchID, jobs, err
		}
		jobs = append(jobs, job)
	}

	s.logger.Info("batch enqueued",
		zap.String("batch_id", batchID),
		zap.String("action", action),
		zap.Int("job_count", len(jobs)),
	)

	return batchID, jobs, nil
}

// ProcessReport summarizes one queue sweep.
type ProcessReport struct {
	Skipped   bool  `json:"skipped"`
	Reclaimed int64 `json:"reclaimed"`
	Picked    int   `json:"picked"`
	Completed int   `json:"completed"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
}

// ProcessQueue runs one locked sweep: reclaim stale jobs, pick up due
// ones and execute them. A sweep already running elsewhere makes this
// a no-op with Skipped set.
func (s *QueueService) ProcessQueue(ctx context.Context) (*ProcessReport, error) {
	report := &ProcessReport{}

	acquired, err := s.locker.Acquire(ctx, processLockKey, s.cfg.StaleTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquiring queue lock: %w", err)
	}
	if !acquired {
		report.Skipped = true

		return report, nil
	}
	defer func() {
		if err := s.locker.Release(ctx, processLockKey); err != nil {
			s.logger.Warn("queue lock release failed", zap.Error(err))
		}
	}()

	now := s.now().UTC()

	reclaimed, err := s.repo.ReclaimStale(ctx, now.Add(-s.cfg.StaleTimeout))
	if err != nil {
		s.logger.Warn("stale job reclaim failed", zap.Error(err))
	} else if reclaimed > 0 {
		s.logger.Info("reclaimed stale jobs", zap.Int64("count", reclaimed))
	}
	report.Reclaimed = reclaimed

	jobs, err := s.repo.FetchDue(ctx, s.cfg.BatchSize, now)
	if err != nil {
		return nil, fmt.Errorf("fetching due jobs: %w", err)
	}
	report.Picked = len(jobs)

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}

		switch s.runJob(ctx, job) {
		case jobOutcomeCompleted:
			report.Completed++
		case jobOutcomeRetried:
			report.Retried++
		case jobOutcomeFailed:
			report.Failed++
		}
	}

	return report, nil
}

type jobOutcome int

const (
	jobOutcomeSkipped jobOutcome = iota
	jobOutcomeCompleted
	jobOutcomeRetried
	jobOutcomeFailed
)

// runJob claims and executes one job, routing failures into retry
// backoff or permanent failure.
func (s *QueueService) runJob(ctx context.Context, job *domain.Job) jobOutcome {
	now := s.now().UTC()
	if err := s.repo.MarkProcessing(ctx, job.ID, now); err != nil {
		// Claimed by a competing sweep between fetch and claim.
		s.logger.Debug("job claim lost", zap.Int64("job_id", job.ID), zap.Error(err))

		return jobOutcomeSkipped
	}
	job.Attempts++

	s.mu.RLock()
	handler, ok := s.handlers[job.Action]
	s.mu.RUnlock()

	if !ok {
		msg := fmt.Sprintf("no handler registered for action %s", job.Action)
		if err := s.repo.MarkFailed(ctx, job.ID, msg, s.now().UTC()); err != nil {
			s.logger.Error("job failure update failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		s.logger.Error("job has no handler",
			zap.Int64("job_id", job.ID),
			zap.String("action", job.Action),
		)

		return jobOutcomeFailed
	}

	result, err := handler(ctx, job)
	if err == nil {
		if uerr := s.repo.MarkCompleted(ctx, job.ID, result, s.now().UTC()); uerr != nil {
			s.logger.Error("job completion update failed", zap.Int64("job_id", job.ID), zap.Error(uerr))
		}
		s.logger.Info("job completed",
			zap.Int64("job_id", job.ID),
			zap.String("action", job.Action),
			zap.Int("attempts", job.Attempts),
		)

		return jobOutcomeCompleted
	}

	if job.Attempts >= job.MaxRetries {
		if uerr := s.repo.MarkFailed(ctx, job.ID, err.Error(), s.now().UTC()); uerr != nil {
			s.logger.Error("job failure update failed", zap.Int64("job_id", job.ID), zap.Error(uerr))
		}
		s.logger.Warn("job failed permanently",
			zap.Int64("job_id", job.ID),
			zap.String("action", job.Action),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)

		return jobOutcomeFailed
	}

	backoff := domain.RetryBackoff(job.Attempts)
	retryAt := s.now().UTC().Add(backoff)
	if uerr := s.repo.Reschedule(ctx, job.ID, retryAt, err.Error()); uerr != nil {
		s.logger.Error("job reschedule failed", zap.Int64("job_id", job.ID), zap.Error(uerr))
	}
	s.logger.Warn("job failed, scheduled for retry",
		zap.Int64("job_id", job.ID),
		zap.String("action", job.Action),
		zap.Int("attempts", job.Attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err),
	)

	return jobOutcomeRetried
}

// Job returns one job by id, nil when unknown.
func (s *QueueService) Job(ctx context.Context, id int64) (*domain.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// BatchStatus aggregates a batch's progress, nil when unknown.
func (s *QueueService) BatchStatus(ctx context.Context, batchID string) (*domain.BatchStatus, error) {
	return s.repo.BatchCounts(ctx, batchID)
}

// BatchJobs lists a batch's jobs.
func (s *QueueService) BatchJobs(ctx context.Context, batchID string) ([]*domain.Job, error) {
	return s.repo.BatchJobs(ctx, batchID)
}

// CancelJob cancels a pending job. Running jobs finish on their own.
func (s *QueueService) CancelJob(ctx context.Context, id int64) (bool, error) {
	return s.repo.CancelJob(ctx, id)
}

// CancelBatch cancels a batch's pending jobs, returning the count.
func (s *QueueService) CancelBatch(ctx context.Context, batchID string) (int64, error) {
	return s.repo.CancelBatch(ctx, batchID)
}

// RetryFailed resets failed jobs to pending with a fresh attempt
// budget. An empty batch id retries every failed job.
func (s *QueueService) RetryFailed(ctx context.Context, batchID string) (int64, error) {
	count, err := s.repo.RetryFailed(ctx, batchID)
	if err == nil && count > 0 {
		s.nudge()
	}

	return count, err
}

// Stats summarizes the whole queue.
func (s *QueueService) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// Cleanup purges terminal jobs and request logs past retention.
func (s *QueueService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)

	purged, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging jobs: %w", err)
	}

	if s.logs != nil {
		logsPurged, lerr := s.logs.PurgeBefore(ctx, cutoff)
		if lerr != nil {
			s.logger.Warn("request log purge failed", zap.Error(lerr))
		} else if logsPurged > 0 {
			s.logger.Info("purged request logs", zap.Int64("count", logsPurged))
		}
	}

	if purged > 0 {
		s.logger.Info("purged terminal jobs", zap.Int64("count", purged))
	}

	return purged, nil
}

// nudge wakes the scheduler without blocking; a pending signal is
// enough.
func (s *QueueService) nudge() {
	select {
	case s.triggerC <- struct{}{}:
	default:
	}
}
