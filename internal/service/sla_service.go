package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

// SLAService detects response and resolution breaches.
type SLAService struct {
	items      repository.ItemRepository
	jobs       Enqueuer
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// SLADependencies bundles collaborators.
type SLADependencies struct {
	ItemRepo   repository.ItemRepository
	Jobs       Enqueuer
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewSLAService creates the service.
func NewSLAService(deps SLADependencies) *SLAService {
	return &SLAService{
		items:      deps.ItemRepo,
		jobs:       deps.Jobs,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		now:        clockOrNow(deps.Now),
	}
}

type breach struct {
	kind     string
	reason   string
	deadline time.Time
}

// CheckSLA handles check_sla jobs. Each breach is recorded once; the first detection
// enqueues an escalation for the item's current level.
func (s *SLAService) CheckSLA(ctx context.Context, job *domain.Job) error {
	itemID := job.Payload.ItemID
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return storeError(err, "item", itemID)
	}
	if item.Status.Done() {
		return nil
	}

	now := s.now()
	breaches := detectBreaches(item, now)
	if len(breaches) == 0 {
		return nil
	}

	level := item.Escalation.Level
	if _, err := s.jobs.Enqueue(ctx, jobs.EnqueueRequest{
		Type: domain.JobEscalate,
		Payload: domain.JobPayload{
			ItemID:   item.ID,
			TenantID: item.TenantID,
			Reason:   breaches[0].reason,
			Level:    &level,
		},
		DedupeKey: fmt.Sprintf("escalate:%s:%d", item.ID, level),
	}); err != nil {
		return err
	}

	a := systemActor(job)
	entries := make([]domain.HistoryEntry, 0, len(breaches))
	for _, b := range breaches {
		switch b.kind {
		case "response":
			item.SLA.ResponseBreachedAt = timePtr(now)
		case "resolution":
			item.SLA.ResolutionBreachedAt = timePtr(now)
		}
		entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeSLABreached, nil,
			map[string]any{"kind": b.kind, "deadline": b.deadline, "detected_at": now},
			now))
	}
	item.UpdatedAt = now
	if err := s.items.Update(ctx, item, entries...); err != nil {
		return storeError(err, "item", item.ID)
	}

	for _, b := range breaches {
		s.logger.Info("sla breached", zap.String("item_id", item.ID), zap.String("kind", b.kind), zap.Time("deadline", b.deadline))
		publish(ctx, s.dispatcher, s.logger, item, events.EventSLABreached, a,
			events.SLABreachedPayload{Kind: b.kind, Deadline: b.deadline}, now)
	}
	return nil
}

// detectBreaches lists the deadlines that have passed and were not yet recorded.
// A response breach only counts while nobody has responded and work has not started.
func detectBreaches(item *domain.Item, now time.Time) []breach {
	var out []breach
	sla := item.SLA
	awaitingResponse := item.FirstResponseAt == nil &&
		(item.Status == domain.ItemStatusOpen || item.Status == domain.ItemStatusAssigned)
	if sla.ResponseDeadline != nil && sla.ResponseBreachedAt == nil && awaitingResponse && now.After(*sla.ResponseDeadline) {
		out = append(out, breach{kind: "response", reason: domain.ReasonResponseSLABreach, deadline: *sla.ResponseDeadline})
	}
	if sla.ResolutionDeadline != nil && sla.ResolutionBreachedAt == nil && now.After(*sla.ResolutionDeadline) {
		out = append(out, breach{kind: "resolution", reason: domain.ReasonResolutionSLABreach, deadline: *sla.ResolutionDeadline})
	}
	return out
}
