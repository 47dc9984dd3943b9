package service

import (
	"context"
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

// EscalationService applies the first matching escalation rule to an item.
type EscalationService struct {
	items      repository.ItemRepository
	teams      repository.TeamRepository
	rules      repository.EscalationRuleRepository
	jobs       Enqueuer
	dispatcher events.Dispatcher
	logger     *zap.Logger
	maxLevel   int
	cooldown   time.Duration
	now        func() time.Time
}

// EscalationDependencies bundles collaborators.
type EscalationDependencies struct {
	ItemRepo   repository.ItemRepository
	TeamRepo   repository.TeamRepository
	RuleRepo   repository.EscalationRuleRepository
	Jobs       Enqueuer
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	MaxLevel   int
	Cooldown   time.Duration
	Now        func() time.Time
}

// NewEscalationService creates the service.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	maxLevel := deps.MaxLevel
	if maxLevel <= 0 {
		maxLevel = 3
	}
	return &EscalationService{
		items:      deps.ItemRepo,
		teams:      deps.TeamRepo,
		rules:      deps.RuleRepo,
		jobs:       deps.Jobs,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		maxLevel:   maxLevel,
		cooldown:   deps.Cooldown,
		now:        clockOrNow(deps.Now),
	}
}

// MaxLevel is the configured escalation ceiling.
func (s *EscalationService) MaxLevel() int {
	return s.maxLevel
}

// Escalate handles escalate jobs. The payload level pins the job to the item level it
// was created for, so a replay after a successful escalation is a no-op.
func (s *EscalationService) Escalate(ctx context.Context, job *domain.Job) error {
	itemID := job.Payload.ItemID
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return storeError(err, "item", itemID)
	}

	log := s.logger.With(zap.String("item_id", item.ID), zap.String("reason", job.Payload.Reason))
	switch {
	case item.Status.Done():
		return nil
	case item.Escalation.Level >= s.maxLevel:
		log.Debug("escalation skipped; max level reached", zap.Int("level", item.Escalation.Level))
		return nil
	case job.Payload.Level != nil && *job.Payload.Level != item.Escalation.Level:
		log.Debug("escalation skipped; level already moved", zap.Int("job_level", *job.Payload.Level), zap.Int("level", item.Escalation.Level))
		return nil
	}

	now := s.now()
	if last := item.Escalation.LastEscalatedAt; last != nil && now.Sub(*last) < s.cooldown {
		log.Debug("escalation skipped; cooling down", zap.Time("last_escalated_at", *last))
		return nil
	}

	rule, err := s.firstMatch(ctx, item, now)
	if err != nil {
		return err
	}
	if rule == nil {
		if job.Payload.Reason == domain.ReasonPeriodicReview || job.Payload.Reason == "" {
			return nil
		}
		return apperrors.NewBusinessRule(apperrors.CodeNoMatchingRule, "no escalation rule matches item", map[string]any{
			"item_id":  item.ID,
			"category": item.Category,
			"priority": item.Priority,
			"reason":   job.Payload.Reason,
		})
	}

	teamID, memberID, err := s.resolveTarget(ctx, item, rule.Actions.EscalateTo)
	if err != nil {
		return err
	}

	a := systemActor(job)
	before := slotOf(item)
	prevLevel := item.Escalation.Level
	var entries []domain.HistoryEntry

	if valueOf(item.AssignedTeamID) != teamID || valueOf(item.AssignedMemberID) != memberID {
		entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeAssignment,
			map[string]any{"team_id": deref(item.AssignedTeamID), "member_id": deref(item.AssignedMemberID)},
			map[string]any{"team_id": teamID, "member_id": memberID},
			now))
		item.AssignedTeamID = stringPtr(teamID)
		item.AssignedMemberID = stringPtr(memberID)
	}
	if p := rule.Actions.ChangePriority; p != nil && p.Valid() && *p != item.Priority {
		entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypePriority,
			map[string]any{"priority": item.Priority},
			map[string]any{"priority": *p},
			now))
		item.Priority = *p
	}
	item.Escalation.Level = min(prevLevel+1, s.maxLevel)
	item.Escalation.LastEscalatedAt = timePtr(now)
	item.UpdatedAt = now
	entries = append(entries, newHistoryEntry(item.ID, a, domain.ChangeTypeEscalated,
		map[string]any{"level": prevLevel},
		map[string]any{"level": item.Escalation.Level, "rule_id": rule.ID, "reason": job.Payload.Reason},
		now))

	if err := saveWithWorkload(ctx, s.items, s.teams, s.logger, item, before, entries...); err != nil {
		return err
	}

	log.Info("item escalated",
		zap.String("rule_id", rule.ID),
		zap.Int("level", item.Escalation.Level),
		zap.String("team_id", teamID),
		zap.String("member_id", memberID))
	publish(ctx, s.dispatcher, s.logger, item, events.EventItemEscalated, a, events.ItemEscalatedPayload{
		RuleID:   rule.ID,
		Level:    item.Escalation.Level,
		Reason:   job.Payload.Reason,
		TeamID:   teamID,
		MemberID: memberID,
	}, now)

	for _, channel := range rule.Actions.Notify {
		if _, err := s.jobs.Enqueue(ctx, jobs.EnqueueRequest{
			Type: domain.JobNotify,
			Payload: domain.JobPayload{
				ItemID:    item.ID,
				TenantID:  item.TenantID,
				Reason:    job.Payload.Reason,
				Channel:   channel,
				Recipient: memberID,
				Title:     fmt.Sprintf("Escalated (level %d): %s", item.Escalation.Level, item.Title),
				Message:   fmt.Sprintf("%s item in %s escalated by rule %q.", item.Priority, item.Category, rule.Name),
			},
			DedupeKey: fmt.Sprintf("notify:%s:escalated:%d:%s", item.ID, item.Escalation.Level, channel),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *EscalationService) firstMatch(ctx context.Context, item *domain.Item, now time.Time) (*domain.EscalationRule, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, storeError(err, "escalation_rule", "")
	}
	age := now.Sub(item.CreatedAt)
	for i := range rules {
		if rules[i].Matches(item.Category, item.Priority) && age >= rules[i].TimeOpen() {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// resolveTarget returns the team and member an escalation hands the item to.
// An empty target team means the item's current team.
func (s *EscalationService) resolveTarget(ctx context.Context, item *domain.Item, target domain.EscalationTarget) (string, string, error) {
	teamID := target.TeamID
	if teamID == "" {
		teamID = valueOf(item.AssignedTeamID)
	}
	if teamID == "" {
		return "", "", noAvailableAgent(item, "escalation target has no team and the item is unassigned")
	}
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return "", "", storeError(err, "team", teamID)
	}

	switch target.Type {
	case domain.EscalateToUser:
		if _, ok := team.Member(target.UserID); !ok {
			return "", "", apperrors.NewNotFound("member", map[string]any{"team_id": teamID, "user_id": target.UserID})
		}
		return team.ID, target.UserID, nil
	case domain.EscalateToTeam:
		ranked := rankMembers(team.Members, item.Priority)
		if len(ranked) == 0 {
			return "", "", noAvailableAgent(item, "escalation team has no member with capacity")
		}
		return team.ID, ranked[0].UserID, nil
	default:
		lead, ok := leastLoadedLead(team.Members)
		if !ok {
			return "", "", noAvailableAgent(item, "escalation team has no lead")
		}
		return team.ID, lead.UserID, nil
	}
}

// leastLoadedLead ignores capacity: an escalation may push a lead above maxWorkload.
func leastLoadedLead(members []domain.Member) (domain.Member, bool) {
	var leads []domain.Member
	for _, m := range members {
		if m.Role == domain.MemberRoleLead {
			leads = append(leads, m)
		}
	}
	if len(leads) == 0 {
		return domain.Member{}, false
	}
	sort.Slice(leads, func(i, j int) bool {
		if leads[i].Workload != leads[j].Workload {
			return leads[i].Workload < leads[j].Workload
		}
		return leads[i].UserID < leads[j].UserID
	})
	return leads[0], true
}
