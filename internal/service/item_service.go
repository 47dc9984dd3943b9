package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// ItemService accepts creation and update intents from the inbound API and owns the
// item state machine.
type ItemService struct {
	items            repository.ItemRepository
	teams            repository.TeamRepository
	slas             repository.SLARepository
	jobs             Enqueuer
	dispatcher       events.Dispatcher
	logger           *zap.Logger
	autoResolveAfter time.Duration
	now              func() time.Time
}

// ItemDependencies bundles collaborators.
type ItemDependencies struct {
	ItemRepo         repository.ItemRepository
	TeamRepo         repository.TeamRepository
	SLARepo          repository.SLARepository
	Jobs             Enqueuer
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	AutoResolveAfter time.Duration
	Now              func() time.Time
}

// NewItemService creates the service.
func NewItemService(deps ItemDependencies) *ItemService {
	after := deps.AutoResolveAfter
	if after <= 0 {
		after = 72 * time.Hour
	}
	return &ItemService{
		items:            deps.ItemRepo,
		teams:            deps.TeamRepo,
		slas:             deps.SLARepo,
		jobs:             deps.Jobs,
		dispatcher:       deps.Dispatcher,
		logger:           loggerOrNop(deps.Logger),
		autoResolveAfter: after,
		now:              clockOrNow(deps.Now),
	}
}

// CreateItemInput carries a creation intent.
type CreateItemInput struct {
	TenantID    string
	Kind        domain.ItemKind
	Title       string
	Description string
	Category    string
	Priority    domain.Priority
	ActorID     string
}

// UpdateItemInput carries an update intent; nil fields are left unchanged.
type UpdateItemInput struct {
	Title       *string
	Description *string
	Category    *string
	Priority    *domain.Priority
	Assignee    *AssigneeInput
	ActorID     string
}

// AssigneeInput names a manual assignment target.
type AssigneeInput struct {
	TeamID   string
	MemberID string
}

// CreateItem stores a new open item and enqueues its auto_assign job.
func (s *ItemService) CreateItem(ctx context.Context, in CreateItemInput) (*domain.Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	if in.Kind == "" {
		in.Kind = domain.ItemKindTicket
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	item := &domain.Item{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		Kind:            in.Kind,
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		Priority:        in.Priority,
		Status:          domain.ItemStatusOpen,
		StatusChangedAt: now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a := userActor(in.ActorID)
	item.History = []domain.HistoryEntry{
		newHistoryEntry(item.ID, a, domain.ChangeTypeCreated, nil, map[string]any{
			"category": item.Category,
			"priority": item.Priority,
			"status":   item.Status,
		}, now),
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, apperrors.MapError(err)
	}

	if _, err := s.jobs.Enqueue(ctx, jobs.EnqueueRequest{
		Type:      domain.JobAutoAssign,
		Payload:   domain.JobPayload{ItemID: item.ID, TenantID: item.TenantID},
		DedupeKey: autoAssignKey(item.ID),
	}); err != nil {
		// The periodic scan re-enqueues auto_assign for unassigned open items.
		s.logger.Error("enqueue auto_assign failed", zap.String("item_id", item.ID), zap.Error(err))
	}
	s.logger.Info("item created", zap.String("item_id", item.ID), zap.String("tenant_id", item.TenantID))
	return item, nil
}

// GetItem loads an item visible to tenantID.
func (s *ItemService) GetItem(ctx context.Context, tenantID, id string) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "item", id)
	}
	if tenantID != "" && item.TenantID != tenantID {
		return nil, apperrors.NewNotFound("item", map[string]any{"item_id": id})
	}
	return item, nil
}

// ListItems lists items with filters.
func (s *ItemService) ListItems(ctx context.Context, filter repository.ItemFilter) ([]domain.Item, error) {
	items, err := s.items.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// UpdateItem applies an update intent. A manual reassignment moves the workload charge
// between members; assigning an open item also starts its SLA clock.
func (s *ItemService) UpdateItem(ctx context.Context, tenantID, id string, in UpdateItemInput) (*domain.Item, error) {
	item, err := s.GetItem(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, apperrors.NewConflict("closed items cannot be updated", map[string]any{"item_id": id})
	}

	now := s.now()
	a := userActor(in.ActorID)
	before := slotOf(item)
	var entries []domain.HistoryEntry
	startSLA := false

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("title cannot be empty", nil)
		}
		item.Title = title
	}
	if in.Description != nil {
		item.Description = *in.Description
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		if category == "" {
			return nil, apperrors.NewValidationError("category cannot be empty", nil)
		}
		item.Category = category
	}
	if in.Priority != nil && *in.Priority != item.Priority {
		if !in.Priority.Valid() {
			return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": *in.Priority})
		}
		entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypePriority,
			map[string]any{"priority": item.Priority},
			map[string]any{"priority": *in.Priority},
			now))
		item.Priority = *in.Priority
	}
	if in.Assignee != nil {
		if err := s.validateAssignee(ctx, *in.Assignee); err != nil {
			return nil, err
		}
		if valueOf(item.AssignedTeamID) != in.Assignee.TeamID || valueOf(item.AssignedMemberID) != in.Assignee.MemberID {
			entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeAssignment,
				map[string]any{"team_id": deref(item.AssignedTeamID), "member_id": deref(item.AssignedMemberID)},
				map[string]any{"team_id": in.Assignee.TeamID, "member_id": in.Assignee.MemberID},
				now))
			item.AssignedTeamID = stringPtr(in.Assignee.TeamID)
			item.AssignedMemberID = stringPtr(in.Assignee.MemberID)
		}
		if item.Status == domain.ItemStatusOpen {
			entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeStatus,
				map[string]any{"status": item.Status},
				map[string]any{"status": domain.ItemStatusAssigned},
				now))
			item.Status = domain.ItemStatusAssigned
			item.StatusChangedAt = now
			startSLA = item.SLA.ResponseDeadline == nil && item.SLA.ResolutionDeadline == nil
		}
	}
	if startSLA {
		entry, err := s.computeSLA(ctx, item, a, now)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	item.UpdatedAt = now
	if err := saveWithWorkload(ctx, s.items, s.teams, s.logger, item, before, entries...); err != nil {
		return nil, err
	}
	if startSLA {
		if err := scheduleSLAChecks(ctx, s.jobs, item); err != nil {
			s.logger.Error("enqueue check_sla failed", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	if in.Assignee != nil {
		publish(ctx, s.dispatcher, s.logger, item, events.EventItemAssigned, a,
			events.ItemAssignedPayload{TeamID: in.Assignee.TeamID, MemberID: in.Assignee.MemberID}, now)
	}
	return item, nil
}

// Transition moves an item through the state machine. Transitions out of closed are
// no-ops; other disallowed transitions are validation errors.
func (s *ItemService) Transition(ctx context.Context, tenantID, id string, to domain.ItemStatus, actorID string) (*domain.Item, error) {
	if !to.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": to})
	}
	item, err := s.GetItem(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, item, to, userActor(actorID))
}

// RecordFirstResponse stores the first agent response; later calls are no-ops.
func (s *ItemService) RecordFirstResponse(ctx context.Context, tenantID, id, actorID string) (*domain.Item, error) {
	item, err := s.GetItem(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if item.FirstResponseAt != nil || item.Status.Terminal() {
		return item, nil
	}
	now := s.now()
	item.FirstResponseAt = timePtr(now)
	item.UpdatedAt = now
	entry := newHistoryEntry(item.ID, userActor(actorID), domain.ChangeTypeFirstResponse, nil,
		map[string]any{"first_response_at": now}, now)
	if err := s.items.Update(ctx, item, entry); err != nil {
		return nil, storeError(err, "item", id)
	}
	return item, nil
}

// AutoResolve handles auto_resolve jobs: an item still waiting on the customer since the
// moment the job was scheduled for is resolved.
func (s *ItemService) AutoResolve(ctx context.Context, job *domain.Job) error {
	itemID := job.Payload.ItemID
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return storeError(err, "item", itemID)
	}
	if item.Status != domain.ItemStatusPendingCustomer {
		return nil
	}
	if since := job.Payload.Since; since != nil && item.StatusChangedAt.Unix() != since.Unix() {
		return nil
	}
	_, err = s.transition(ctx, item, domain.ItemStatusResolved, systemActor(job), newHistoryEntry(item.ID, systemActor(job),
		domain.ChangeTypeAutoResolved, nil, map[string]any{"waited": s.autoResolveAfter.String()}, s.now()))
	return err
}

func (s *ItemService) transition(ctx context.Context, item *domain.Item, to domain.ItemStatus, a actor, extra ...domain.HistoryEntry) (*domain.Item, error) {
	from := item.Status
	if from.Terminal() || from == to {
		return item, nil
	}
	if !from.CanTransitionTo(to) {
		return nil, apperrors.NewValidationError("transition not allowed", map[string]any{"from": from, "to": to})
	}
	if to == domain.ItemStatusAssigned && item.AssignedMemberID == nil {
		return nil, apperrors.NewValidationError("item has no assignee", map[string]any{"item_id": item.ID})
	}

	now := s.now()
	before := slotOf(item)
	item.Status = to
	item.StatusChangedAt = now
	item.UpdatedAt = now
	entries := append([]domain.HistoryEntry{
		newHistoryEntry(item.ID, a, domain.ChangeTypeStatus,
			map[string]any{"status": from},
			map[string]any{"status": to},
			now),
	}, extra...)
	if err := saveWithWorkload(ctx, s.items, s.teams, s.logger, item, before, entries...); err != nil {
		return nil, err
	}

	if to == domain.ItemStatusPendingCustomer {
		since := now
		if _, err := s.jobs.Enqueue(ctx, jobs.EnqueueRequest{
			Type:         domain.JobAutoResolve,
			Payload:      domain.JobPayload{ItemID: item.ID, TenantID: item.TenantID, Since: &since},
			DedupeKey:    fmt.Sprintf("auto_resolve:%s:%d", item.ID, now.Unix()),
			ScheduledFor: now.Add(s.autoResolveAfter),
		}); err != nil {
			s.logger.Error("enqueue auto_resolve failed", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	publish(ctx, s.dispatcher, s.logger, item, events.EventItemStatusChanged, a,
		events.ItemStatusChangedPayload{OldStatus: from, NewStatus: to}, now)
	return item, nil
}

func (s *ItemService) computeSLA(ctx context.Context, item *domain.Item, a actor, now time.Time) (*domain.HistoryEntry, error) {
	def, err := s.slas.Get(ctx, item.Category, item.Priority)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "sla_definition", item.Category)
	}
	response, resolution := def.Deadlines(now)
	item.SLA.ResponseDeadline = timePtr(response)
	item.SLA.ResolutionDeadline = timePtr(resolution)
	entry := newHistoryEntry(item.ID, a, domain.ChangeTypeSLAComputed, nil,
		map[string]any{"response_deadline": response, "resolution_deadline": resolution}, now)
	return &entry, nil
}

func (s *ItemService) validateAssignee(ctx context.Context, in AssigneeInput) error {
	if in.TeamID == "" || in.MemberID == "" {
		return apperrors.NewValidationError("assignee requires team_id and member_id", nil)
	}
	team, err := s.teams.GetByID(ctx, in.TeamID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewValidationError("unknown team", map[string]any{"team_id": in.TeamID})
	}
	if err != nil {
		return apperrors.MapError(err)
	}
	if _, ok := team.Member(in.MemberID); !ok {
		return apperrors.NewValidationError("member does not belong to team", map[string]any{"team_id": in.TeamID, "member_id": in.MemberID})
	}
	return nil
}

func validateCreate(in CreateItemInput) error {
	details := map[string]any{}
	if in.TenantID == "" {
		details["tenant_id"] = "required"
	}
	if in.Title == "" {
		details["title"] = "required"
	}
	if in.Category == "" {
		details["category"] = "required"
	}
	if !in.Priority.Valid() {
		details["priority"] = "must be one of low, medium, high, critical"
	}
	if in.Kind != domain.ItemKindTicket && in.Kind != domain.ItemKindLead {
		details["kind"] = "must be ticket or lead"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid item", details)
	}
	return nil
}

func autoAssignKey(itemID string) string {
	return "auto_assign:" + itemID
}
