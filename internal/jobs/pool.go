package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// Pool runs a fixed number of workers that poll the dispatcher for due jobs.
type Pool struct {
	dispatcher   *Dispatcher
	registry     *Registry
	logger       *zap.Logger
	metrics      *observability.Metrics
	workers      int
	pollInterval time.Duration
	name         string
}

// PoolDependencies bundles collaborators.
type PoolDependencies struct {
	Dispatcher   *Dispatcher
	Registry     *Registry
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Workers      int
	PollInterval time.Duration
	// Name prefixes worker ids; defaults to a random token per process.
	Name string
}

// NewPool creates the worker pool.
func NewPool(deps PoolDependencies) *Pool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	name := deps.Name
	if name == "" {
		name = uuid.NewString()[:8]
	}
	return &Pool{
		dispatcher:   deps.Dispatcher,
		registry:     deps.Registry,
		logger:       logger,
		metrics:      deps.Metrics,
		workers:      workers,
		pollInterval: poll,
		name:         name,
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.name, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.String("pool", p.name))
	wg.Wait()
	p.logger.Info("worker pool stopped", zap.String("pool", p.name))
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("worker iteration failed", zap.String("worker_id", workerID), zap.Error(err))
		}
		if processed {
			continue
		}
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was claimed.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.dispatcher.Claim(ctx, workerID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger := p.logger.With(
		zap.String("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("item_id", job.Payload.ItemID),
	)

	start := time.Now()
	handlerErr := p.execute(ctx, job, logger)
	elapsed := time.Since(start)

	if handlerErr == nil {
		if err := p.dispatcher.Complete(ctx, job, workerID); err != nil {
			if errors.Is(err, repository.ErrLeaseLost) {
				logger.Warn("lease lost before completion")
				return true, nil
			}
			return true, fmt.Errorf("complete: %w", err)
		}
		p.metrics.JobCompleted(string(job.Type), elapsed)
		logger.Debug("job completed", zap.Duration("elapsed", elapsed))
		return true, nil
	}

	terminal, err := p.dispatcher.Fail(ctx, job, workerID, handlerErr)
	if err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			logger.Warn("lease lost before failure was recorded", zap.Error(handlerErr))
			return true, nil
		}
		return true, fmt.Errorf("fail: %w", err)
	}
	p.metrics.JobFailed(string(job.Type), string(apperrors.KindOf(handlerErr)), terminal, elapsed)
	return true, nil
}

// Drain runs jobs on a single worker until none is due. Intended for tests and one-shot runs.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	workerID := p.name + "-drain"
	n := 0
	for {
		processed, err := p.RunOnce(ctx, workerID)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

func (p *Pool) execute(ctx context.Context, job *domain.Job, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = apperrors.NewInternalError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return p.registry.Dispatch(ctx, job)
}
