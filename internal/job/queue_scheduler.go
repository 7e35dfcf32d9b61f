// Package job provides background job schedulers.
package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"product-data-service/internal/app/service"
)

// QueueScheduler drives the background queue: periodic sweeps on a
// ticker, immediate sweeps when a high-priority job lands and a slower
// retention cleanup loop. Cross-instance exclusion lives inside
// ProcessQueue itself, so every instance can run a scheduler.
type QueueScheduler struct {
	queue    *service.QueueService
	interval time.Duration
	timeout  time.Duration
	cleanup  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueueSchedulerConfig holds scheduler configuration.
type QueueSchedulerConfig struct {
	// Interval between periodic sweeps.
	Interval time.Duration

	// Timeout bounds one sweep.
	Timeout time.Duration

	// CleanupInterval between retention sweeps.
	CleanupInterval time.Duration
}

// NewQueueScheduler creates a scheduler over the queue service.
func NewQueueScheduler(queue *service.QueueService, cfg QueueSchedulerConfig, logger *zap.Logger) *QueueScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	return &QueueScheduler{
		queue:    queue,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		cleanup:  cfg.CleanupInterval,
		logger:   logger,
	}
}

// Start begins the background loops.
func (s *QueueScheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("starting queue scheduler",
		zap.Duration("interval", s.interval),
		zap.Duration("cleanup_interval", s.cleanup),
	)

	s.wg.Add(2)
	go s.runSweeps()
	go s.runCleanup()
}

// Stop gracefully stops the scheduler.
func (s *QueueScheduler) Stop() {
	s.logger.Info("stopping queue scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("queue scheduler stopped")
}

// runSweeps is the main processing loop. The trigger channel lets a
// high-priority enqueue start a sweep without waiting for the ticker.
func (s *QueueScheduler) runSweeps() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		case <-s.queue.TriggerC():
			s.sweep()
		}
	}
}

// runCleanup purges expired terminal jobs and request logs.
func (s *QueueScheduler) runCleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
			if _, err := s.queue.Cleanup(ctx); err != nil {
				s.logger.Warn("queue cleanup failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// sweep runs one bounded queue pass.
func (s *QueueScheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	report, err := s.queue.ProcessQueue(ctx)
	if err != nil {
		s.logger.Error("queue sweep failed", zap.Error(err))

		return
	}
	if report.Skipped {
		s.logger.Debug("another instance is sweeping the queue, skipping")

		return
	}

	if report.Picked > 0 || report.Reclaimed > 0 {
		s.logger.Info("queue sweep completed",
			zap.Int("picked", report.Picked),
			zap.Int("completed", report.Completed),
			zap.Int("retried", report.Retried),
			zap.Int("failed", report.Failed),
			zap.Int64("reclaimed", report.Reclaimed),
		)
	}
}
