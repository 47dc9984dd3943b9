package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// AssignmentService routes open items to a team member and starts their SLA clock.
type AssignmentService struct {
	items         repository.ItemRepository
	teams         repository.TeamRepository
	slas          repository.SLARepository
	jobs          Enqueuer
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	defaultTeamID string
	now           func() time.Time
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	ItemRepo      repository.ItemRepository
	TeamRepo      repository.TeamRepository
	SLARepo       repository.SLARepository
	Jobs          Enqueuer
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	DefaultTeamID string
	Now           func() time.Time
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		items:         deps.ItemRepo,
		teams:         deps.TeamRepo,
		slas:          deps.SLARepo,
		jobs:          deps.Jobs,
		dispatcher:    deps.Dispatcher,
		logger:        loggerOrNop(deps.Logger),
		defaultTeamID: deps.DefaultTeamID,
		now:           clockOrNow(deps.Now),
	}
}

// AutoAssign handles auto_assign jobs.
func (s *AssignmentService) AutoAssign(ctx context.Context, job *domain.Job) error {
	itemID := job.Payload.ItemID
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return storeError(err, "item", itemID)
	}
	if item.Status != domain.ItemStatusOpen || item.AssignedMemberID != nil {
		s.logger.Debug("auto_assign skipped", zap.String("item_id", itemID), zap.String("status", string(item.Status)))
		return nil
	}

	team, member, err := s.reserveMember(ctx, item)
	if err != nil {
		return err
	}

	now := s.now()
	a := systemActor(job)
	entries := []domain.HistoryEntry{
		newHistoryEntry(item.ID, a, domain.ChangeTypeAssignment,
			map[string]any{"team_id": deref(item.AssignedTeamID), "member_id": deref(item.AssignedMemberID)},
			map[string]any{"team_id": team.ID, "member_id": member.UserID},
			now),
		newHistoryEntry(item.ID, a, domain.ChangeTypeStatus,
			map[string]any{"status": item.Status},
			map[string]any{"status": domain.ItemStatusAssigned},
			now),
	}

	item.AssignedTeamID = stringPtr(team.ID)
	item.AssignedMemberID = stringPtr(member.UserID)
	item.Status = domain.ItemStatusAssigned
	item.StatusChangedAt = now
	item.UpdatedAt = now

	def, err := s.slas.Get(ctx, item.Category, item.Priority)
	switch {
	case err == nil:
		response, resolution := def.Deadlines(now)
		item.SLA.ResponseDeadline = timePtr(response)
		item.SLA.ResolutionDeadline = timePtr(resolution)
		entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeSLAComputed, nil,
			map[string]any{"response_deadline": response, "resolution_deadline": resolution},
			now))
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("no sla definition", zap.String("category", item.Category), zap.String("priority", string(item.Priority)))
	default:
		s.release(ctx, team.ID, member.UserID)
		return storeError(err, "sla_definition", item.Category)
	}

	if err := s.items.Update(ctx, item, entries...); err != nil {
		s.release(ctx, team.ID, member.UserID)
		return storeError(err, "item", item.ID)
	}

	s.logger.Info("item assigned",
		zap.String("item_id", item.ID),
		zap.String("team_id", team.ID),
		zap.String("member_id", member.UserID))

	publish(ctx, s.dispatcher, s.logger, item, events.EventItemAssigned, a,
		events.ItemAssignedPayload{TeamID: team.ID, MemberID: member.UserID}, now)

	if _, err := s.jobs.Enqueue(ctx, jobs.EnqueueRequest{
		Type: domain.JobNotify,
		Payload: domain.JobPayload{
			ItemID:    item.ID,
			TenantID:  item.TenantID,
			Channel:   domain.ChannelEmail,
			Recipient: member.UserID,
			Title:     fmt.Sprintf("New %s assigned: %s", item.Kind, item.Title),
			Message:   fmt.Sprintf("%s priority %s item in %s was assigned to you.", item.Priority, item.Kind, item.Category),
		},
		DedupeKey: fmt.Sprintf("notify:%s:assigned:%s", item.ID, member.UserID),
	}); err != nil {
		return err
	}
	return scheduleSLAChecks(ctx, s.jobs, item)
}

// reserveMember selects a team and atomically takes one unit of a member's capacity.
func (s *AssignmentService) reserveMember(ctx context.Context, item *domain.Item) (*domain.Team, *domain.Member, error) {
	candidates, err := s.candidateTeams(ctx, item.Category)
	if err != nil {
		return nil, nil, err
	}
	team := selectTeam(candidates, item.Priority)
	if team == nil {
		return nil, nil, noAvailableAgent(item, "no team handles this category")
	}

	for _, m := range rankMembers(team.Members, item.Priority) {
		ok, err := s.teams.TryIncrementWorkload(ctx, team.ID, m.UserID)
		if err != nil {
			return nil, nil, storeError(err, "member", m.UserID)
		}
		if ok {
			member := m
			return team, &member, nil
		}
		// Another assignment took the last slot; try the next candidate.
	}
	return nil, nil, noAvailableAgent(item, "every member of the selected team is at capacity")
}

func (s *AssignmentService) candidateTeams(ctx context.Context, category string) ([]domain.Team, error) {
	teams, err := s.teams.ListActiveByCategory(ctx, category)
	if err != nil {
		return nil, storeError(err, "team", category)
	}
	if len(teams) > 0 {
		return teams, nil
	}

	var fallback *domain.Team
	if s.defaultTeamID != "" {
		fallback, err = s.teams.GetByID(ctx, s.defaultTeamID)
	} else {
		fallback, err = s.teams.FindDefault(ctx)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "team", s.defaultTeamID)
	}
	if !fallback.IsActive {
		return nil, nil
	}
	return []domain.Team{*fallback}, nil
}

func (s *AssignmentService) release(ctx context.Context, teamID, memberID string) {
	if err := s.teams.AdjustWorkload(ctx, teamID, memberID, -1); err != nil {
		s.logger.Error("workload rollback failed", zap.String("team_id", teamID), zap.String("member_id", memberID), zap.Error(err))
	}
}

// selectTeam prefers the least loaded team for critical items and the lowest id otherwise.
func selectTeam(teams []domain.Team, priority domain.Priority) *domain.Team {
	if len(teams) == 0 {
		return nil
	}
	ordered := append([]domain.Team(nil), teams...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if priority == domain.PriorityCritical {
			ai, aj := ordered[i].AverageWorkload(), ordered[j].AverageWorkload()
			if ai != aj {
				return ai < aj
			}
		}
		return ordered[i].ID < ordered[j].ID
	})
	return &ordered[0]
}

// rankMembers orders members with spare capacity: leads first for high and critical
// items, then by workload, then by user id.
func rankMembers(members []domain.Member, priority domain.Priority) []domain.Member {
	preferLead := priority.PrefersLead()
	ranked := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if m.HasCapacity() {
			ranked = append(ranked, m)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if preferLead && (a.Role == domain.MemberRoleLead) != (b.Role == domain.MemberRoleLead) {
			return a.Role == domain.MemberRoleLead
		}
		if a.Workload != b.Workload {
			return a.Workload < b.Workload
		}
		return a.UserID < b.UserID
	})
	return ranked
}

func noAvailableAgent(item *domain.Item, reason string) error {
	return apperrors.NewBusinessRule(apperrors.CodeNoAvailableAgent, "no available agent", map[string]any{
		"item_id":  item.ID,
		"category": item.Category,
		"priority": item.Priority,
		"reason":   reason,
	})
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func clockOrNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
