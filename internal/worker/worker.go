// Package worker runs the job-processing side of the engine.
package worker

import (
	"context"

	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/service"
)

// Handlers bundles the services that process jobs.
type Handlers struct {
	Assignment    *service.AssignmentService
	SLA           *service.SLAService
	Escalation    *service.EscalationService
	Items         *service.ItemService
	Notifications *service.NotificationService
}

// NewRegistry maps every job type to its handler.
func NewRegistry(h Handlers) *jobs.Registry {
	registry := &jobs.Registry{}
	if h.Assignment != nil {
		registry.AutoAssign = h.Assignment
	}
	if h.SLA != nil {
		registry.CheckSLA = h.SLA
	}
	if h.Escalation != nil {
		registry.Escalate = h.Escalation
	}
	if h.Items != nil {
		registry.AutoResolve = h.Items
	}
	if h.Notifications != nil {
		registry.Notify = h.Notifications
	}
	return registry
}

// Start registers the notification event handlers and runs pool until ctx is cancelled
// and in-flight jobs have finished.
func Start(ctx context.Context, pool *jobs.Pool, notifications *service.NotificationService) {
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	if pool != nil {
		pool.Run(ctx)
	}
}
