// Package jobs implements the durable job queue contract on top of a
// repository.JobRepository: enqueue with dedupe keys, exclusive claims with
// leases, retry with exponential backoff and a dead-letter view.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// EnqueueRequest describes a job to create. Zero ScheduledFor means now.
type EnqueueRequest struct {
	Type         domain.JobType
	Payload      domain.JobPayload
	DedupeKey    string
	ScheduledFor time.Time
	MaxAttempts  int
}

// Dispatcher moves jobs between the store and the worker pool.
type Dispatcher struct {
	store       repository.JobRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	lease       time.Duration
	maxAttempts int
	backoff     Backoff
}

// DispatcherDependencies bundles collaborators.
type DispatcherDependencies struct {
	Store   repository.JobRepository
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Config  config.EngineConfig
	Now     func() time.Time
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(deps DispatcherDependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	maxAttempts := deps.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		store:       deps.Store,
		logger:      logger,
		metrics:     deps.Metrics,
		now:         now,
		lease:       deps.Config.LeaseTimeout(),
		maxAttempts: maxAttempts,
		backoff:     Backoff{Base: deps.Config.BackoffBase(), Cap: deps.Config.BackoffCap()},
	}
}

// Enqueue stores a new pending job and returns its id. When an active job already
// holds the dedupe key, that job's id is returned and nothing is stored.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if !req.Type.Valid() {
		return "", apperrors.NewValidationError("unknown job type", map[string]any{"type": req.Type})
	}
	now := d.now()
	scheduled := req.ScheduledFor
	if scheduled.IsZero() {
		scheduled = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.maxAttempts
	}
	job := &domain.Job{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Payload:      req.Payload,
		ScheduledFor: scheduled,
		MaxAttempts:  maxAttempts,
		Status:       domain.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		job.DedupeKey = &key
	}

	id, created, err := d.store.Insert(ctx, job)
	if err != nil {
		return "", apperrors.NewTransient("enqueue job", err)
	}
	d.metrics.JobEnqueued(string(req.Type), !created)
	if created {
		d.logger.Debug("job enqueued",
			zap.String("job_id", id),
			zap.String("job_type", string(req.Type)),
			zap.String("item_id", req.Payload.ItemID),
			zap.Time("scheduled_for", scheduled))
	}
	return id, nil
}

// Claim hands one due job to workerID, or returns nil when none is due.
func (d *Dispatcher) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	return d.store.Claim(ctx, workerID, d.now(), d.lease)
}

// Complete marks a claimed job succeeded.
func (d *Dispatcher) Complete(ctx context.Context, job *domain.Job, workerID string) error {
	if err := d.store.Complete(ctx, job.ID, workerID, d.now()); err != nil {
		return err
	}
	return nil
}

// Fail records a failed attempt. Retryable kinds go back to the queue with a backoff
// delay until MaxAttempts is reached; the rest become terminal at once.
func (d *Dispatcher) Fail(ctx context.Context, job *domain.Job, workerID string, cause error) (bool, error) {
	now := d.now()
	attempt := job.Attempt + 1
	kind := apperrors.KindOf(cause)
	terminal := !apperrors.Retryable(kind) || attempt >= job.MaxAttempts

	update := repository.FailUpdate{
		JobID:        job.ID,
		WorkerID:     workerID,
		Attempt:      attempt,
		Status:       domain.JobStatusFailedRetryable,
		ScheduledFor: now.Add(d.backoff.Delay(attempt)),
		LastError:    errorText(cause),
		Now:          now,
	}
	if terminal {
		update.Status = domain.JobStatusFailedTerminal
		update.ScheduledFor = job.ScheduledFor
	}
	if err := d.store.Fail(ctx, update); err != nil {
		return false, err
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("item_id", job.Payload.ItemID),
		zap.Int("attempt", attempt),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	}
	if terminal {
		d.logger.Error("job failed terminally", fields...)
	} else {
		d.logger.Warn("job failed; will retry", append(fields, zap.Time("retry_at", update.ScheduledFor))...)
	}
	return terminal, nil
}

// ReclaimExpired re-admits claims whose lease ran out as if the attempt had failed.
func (d *Dispatcher) ReclaimExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired, err := d.store.ListExpiredClaims(ctx, d.now(), limit)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for i := range expired {
		job := &expired[i]
		if job.ClaimedBy == nil {
			continue
		}
		cause := apperrors.NewTransient("claim lease expired", nil)
		terminal, err := d.Fail(ctx, job, *job.ClaimedBy, cause)
		if errors.Is(err, repository.ErrLeaseLost) {
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
		d.metrics.JobReclaimed()
		d.metrics.JobFailed(string(job.Type), string(apperrors.KindTransient), terminal, 0)
	}
	return reclaimed, nil
}

// ListDeadLetters returns terminally failed jobs, most recent first.
func (d *Dispatcher) ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	return d.store.ListByStatus(ctx, domain.JobStatusFailedTerminal, limit, offset)
}

// Requeue puts a terminally failed job back in the queue with a fresh attempt budget.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	err := d.store.Requeue(ctx, id, d.now())
	switch {
	case err == nil:
		d.logger.Info("job requeued", zap.String("job_id", id))
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("job", map[string]any{"job_id": id})
	case errors.Is(err, repository.ErrInvalidState):
		return apperrors.NewConflict("only failed_terminal jobs can be requeued", map[string]any{"job_id": id})
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict("an active job already holds this job's dedupe key", map[string]any{"job_id": id})
	default:
		return apperrors.MapError(err)
	}
}

// PurgeSucceeded deletes succeeded jobs last touched before now-olderThan.
func (d *Dispatcher) PurgeSucceeded(ctx context.Context, olderThan time.Duration) (int64, error) {
	return d.store.PurgeSucceeded(ctx, d.now().Add(-olderThan))
}

// Stats counts stored jobs per status.
func (d *Dispatcher) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	return d.store.CountByStatus(ctx)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
