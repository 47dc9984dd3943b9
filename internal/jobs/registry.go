package jobs

import (
	"context"

	"github.com/spec-kit/workflow-engine/internal/domain"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// AutoAssigner handles auto_assign jobs.
type AutoAssigner interface {
	AutoAssign(ctx context.Context, job *domain.Job) error
}

// SLAChecker handles check_sla jobs.
type SLAChecker interface {
	CheckSLA(ctx context.Context, job *domain.Job) error
}

// Escalator handles escalate jobs.
type Escalator interface {
	Escalate(ctx context.Context, job *domain.Job) error
}

// AutoResolver handles auto_resolve jobs.
type AutoResolver interface {
	AutoResolve(ctx context.Context, job *domain.Job) error
}

// Notifier handles notify jobs.
type Notifier interface {
	Notify(ctx context.Context, job *domain.Job) error
}

// Registry maps job types to their handlers.
type Registry struct {
	AutoAssign  AutoAssigner
	CheckSLA    SLAChecker
	Escalate    Escalator
	AutoResolve AutoResolver
	Notify      Notifier
}

// Dispatch runs the handler registered for job.Type.
func (r *Registry) Dispatch(ctx context.Context, job *domain.Job) error {
	switch job.Type {
	case domain.JobAutoAssign:
		if r.AutoAssign != nil {
			return r.AutoAssign.AutoAssign(ctx, job)
		}
	case domain.JobCheckSLA:
		if r.CheckSLA != nil {
			return r.CheckSLA.CheckSLA(ctx, job)
		}
	case domain.JobEscalate:
		if r.Escalate != nil {
			return r.Escalate.Escalate(ctx, job)
		}
	case domain.JobAutoResolve:
		if r.AutoResolve != nil {
			return r.AutoResolve.AutoResolve(ctx, job)
		}
	case domain.JobNotify:
		if r.Notify != nil {
			return r.Notify.Notify(ctx, job)
		}
	}
	return apperrors.NewValidationError("no handler registered for job type", map[string]any{"type": job.Type})
}
