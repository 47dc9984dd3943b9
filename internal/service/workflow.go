package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// Enqueuer is the slice of the job dispatcher that services need.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (string, error)
}

// actor identifies who caused a change recorded in item history.
type actor struct {
	kind  domain.ActorType
	id    *string
	jobID *string
}

func systemActor(job *domain.Job) actor {
	a := actor{kind: domain.ActorSystem}
	if job != nil {
		id := job.ID
		a.jobID = &id
	}
	return a
}

func userActor(userID string) actor {
	if userID == "" {
		return actor{kind: domain.ActorUser}
	}
	return actor{kind: domain.ActorUser, id: &userID}
}

func (a actor) event() events.Actor {
	return events.Actor{Type: a.kind, ID: a.id}
}

func newHistoryEntry(itemID string, a actor, change domain.ChangeType, oldValue, newValue map[string]any, at time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:          uuid.NewString(),
		ItemID:      itemID,
		ChangedBy:   a.kind,
		ChangedByID: a.id,
		ChangeType:  change,
		JobID:       a.jobID,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   at,
	}
}

// storeError classifies repository failures for the worker pool and the HTTP layer.
func storeError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, map[string]any{resource + "_id": id})
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewTransient(resource+" was modified concurrently", err)
	default:
		return apperrors.MapError(err)
	}
}

// workloadSlot is the (team, member) pair an item is charged to, if it is charged at all.
type workloadSlot struct {
	teamID   string
	memberID string
	active   bool
}

func slotOf(item *domain.Item) workloadSlot {
	teamID, memberID, ok := item.Assignee()
	if !ok || !item.Status.CountsTowardWorkload() {
		return workloadSlot{}
	}
	return workloadSlot{teamID: teamID, memberID: memberID, active: true}
}

// releaseWorkload decrements the member in before when the item no longer counts toward it.
func releaseWorkload(ctx context.Context, teams repository.TeamRepository, before, after workloadSlot) error {
	if !before.active || before == after {
		return nil
	}
	return teams.AdjustWorkload(ctx, before.teamID, before.memberID, -1)
}

// chargeWorkload increments the member in after when the item newly counts toward it.
func chargeWorkload(ctx context.Context, teams repository.TeamRepository, before, after workloadSlot) error {
	if !after.active || before == after {
		return nil
	}
	return teams.AdjustWorkload(ctx, after.teamID, after.memberID, 1)
}

// saveWithWorkload persists item and moves the workload charge from before to the item's
// new slot. The new member is charged first so a failed save can be rolled back.
func saveWithWorkload(ctx context.Context, items repository.ItemRepository, teams repository.TeamRepository, logger *zap.Logger,
	item *domain.Item, before workloadSlot, entries ...domain.HistoryEntry) error {
	after := slotOf(item)
	if err := chargeWorkload(ctx, teams, before, after); err != nil {
		return storeError(err, "member", after.memberID)
	}
	if err := items.Update(ctx, item, entries...); err != nil {
		if rbErr := releaseWorkload(ctx, teams, after, before); rbErr != nil {
			logger.Error("workload rollback failed", zap.String("item_id", item.ID), zap.Error(rbErr))
		}
		return storeError(err, "item", item.ID)
	}
	if err := releaseWorkload(ctx, teams, before, after); err != nil {
		// The item is saved; the audit scan reports the drift.
		logger.Error("workload release failed",
			zap.String("item_id", item.ID),
			zap.String("team_id", before.teamID),
			zap.String("member_id", before.memberID),
			zap.Error(err))
	}
	return nil
}

// scheduleSLAChecks enqueues check_sla jobs at the item's response and resolution deadlines.
func scheduleSLAChecks(ctx context.Context, enq Enqueuer, item *domain.Item) error {
	checks := []struct {
		kind     string
		deadline *time.Time
	}{
		{"response", item.SLA.ResponseDeadline},
		{"resolution", item.SLA.ResolutionDeadline},
	}
	for _, c := range checks {
		if c.deadline == nil {
			continue
		}
		if _, err := enq.Enqueue(ctx, jobs.EnqueueRequest{
			Type:         domain.JobCheckSLA,
			Payload:      domain.JobPayload{ItemID: item.ID, TenantID: item.TenantID},
			DedupeKey:    fmt.Sprintf("check_sla:%s:%s", item.ID, c.kind),
			ScheduledFor: *c.deadline,
		}); err != nil {
			return err
		}
	}
	return nil
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, item *domain.Item, eventType events.EventType, a actor, payload any, at time.Time) {
	if dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ItemID:    item.ID,
		TenantID:  item.TenantID,
		Actor:     a.event(),
		Timestamp: at,
		Payload:   payload,
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event subscriber failed", zap.String("event_type", string(eventType)), zap.String("item_id", item.ID), zap.Error(err))
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func stringPtr(s string) *string {
	return &s
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
