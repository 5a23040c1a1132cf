// Package workflow runs the worker pool that drains the job queue. Each
// worker claims one queued job at a time and drives it through the pipeline;
// the GPU lock serializes the heavy stages across workers and processes.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/logging"
	"github.com/Zipties/voicestack2/internal/pipeline"
	"github.com/Zipties/voicestack2/internal/store"
)

// Manager coordinates queue processing across the worker pool.
type Manager struct {
	cfg           *config.Config
	store         *store.Store
	logger        *slog.Logger
	pipeline      *pipeline.Pipeline
	workers       int
	pollInterval  time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager with a freshly wired pipeline.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return NewManagerWithPipeline(cfg, st, logger, pipeline.New(cfg, st, logger))
}

// NewManagerWithPipeline constructs a manager around an existing pipeline
// (used in tests).
func NewManagerWithPipeline(cfg *config.Config, st *store.Store, logger *slog.Logger, p *pipeline.Pipeline) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:           cfg,
		store:         st,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		pipeline:      p,
		workers:       workers,
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Start launches the worker pool. It is a no-op when already running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		worker := i
		go func() {
			defer m.wg.Done()
			m.runWorker(runCtx, worker)
		}()
	}
	m.logger.Info("workers started", logging.Int("workers", m.workers))
}

// Stop signals the workers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workers stopped")
}

// Running reports whether the pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	logger := m.logger.With(logging.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := m.store.ClaimNextQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			if !sleepCtx(ctx, m.retryInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, m.pollInterval) {
				return
			}
			continue
		}

		logger.Info("job claimed", logging.String(logging.FieldJobID, job.ID))
		err = m.pipeline.Run(ctx, job)
		switch {
		case err == nil:
			// Completion is logged by the pipeline.
		case errors.Is(err, pipeline.ErrCancelled):
			logger.Info("job cancelled", logging.String(logging.FieldJobID, job.ID))
		case errors.Is(err, context.Canceled):
			// Shutdown mid-job: the job stays RUNNING and is requeued on the
			// next daemon start.
			return
		default:
			logger.Error("job failed",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
}

// ResetStaleRunning requeues jobs left RUNNING by a previous daemon that died
// mid-job. Called once at startup before workers launch.
func (m *Manager) ResetStaleRunning(ctx context.Context) (int, error) {
	jobs, err := m.store.ListJobs(ctx, store.StatusRunning)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, job := range jobs {
		if err := m.store.RequeueJob(ctx, job.ID); err != nil {
			return reset, err
		}
		m.logger.Info("requeued stale job", logging.String(logging.FieldJobID, job.ID))
		reset++
	}
	return reset, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
