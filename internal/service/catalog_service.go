package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// CatalogService administers teams, SLA definitions and escalation rules.
type CatalogService struct {
	teams repository.TeamRepository
	slas  repository.SLARepository
	rules repository.EscalationRuleRepository
	now   func() time.Time
}

// CatalogDependencies bundles repositories.
type CatalogDependencies struct {
	TeamRepo repository.TeamRepository
	SLARepo  repository.SLARepository
	RuleRepo repository.EscalationRuleRepository
	Now      func() time.Time
}

// NewCatalogService creates the service.
func NewCatalogService(deps CatalogDependencies) *CatalogService {
	return &CatalogService{
		teams: deps.TeamRepo,
		slas:  deps.SLARepo,
		rules: deps.RuleRepo,
		now:   clockOrNow(deps.Now),
	}
}

// CreateTeamInput describes a team and its members.
type CreateTeamInput struct {
	ID        string
	Name      string
	Category  string
	IsDefault bool
	Members   []domain.Member
}

// CreateTeam stores a new active team.
func (s *CatalogService) CreateTeam(ctx context.Context, in CreateTeamInput) (*domain.Team, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	details := map[string]any{}
	if in.Name == "" {
		details["name"] = "required"
	}
	if in.Category == "" {
		details["category"] = "required"
	}
	seen := make(map[string]bool, len(in.Members))
	for _, m := range in.Members {
		switch {
		case m.UserID == "":
			details["members"] = "user_id is required"
		case seen[m.UserID]:
			details["members"] = "duplicate user_id " + m.UserID
		case m.Role != domain.MemberRoleLead && m.Role != domain.MemberRoleMember:
			details["members"] = "role must be lead or member"
		case m.MaxWorkload < 0 || m.Workload < 0:
			details["members"] = "workload values must not be negative"
		}
		seen[m.UserID] = true
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid team", details)
	}

	now := s.now()
	team := &domain.Team{
		ID:        in.ID,
		Name:      in.Name,
		Category:  in.Category,
		IsActive:  true,
		IsDefault: in.IsDefault,
		Members:   in.Members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	if err := s.teams.Create(ctx, team); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("team already exists", map[string]any{"team_id": team.ID})
		}
		return nil, apperrors.MapError(err)
	}
	return team, nil
}

// GetTeam loads a team with live workload counters.
func (s *CatalogService) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	team, err := s.teams.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "team", id)
	}
	return team, nil
}

// ListTeams lists every team.
func (s *CatalogService) ListTeams(ctx context.Context) ([]domain.Team, error) {
	teams, err := s.teams.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return teams, nil
}

// UpsertSLADefinition creates or replaces the entry for (category, priority). Items
// already assigned keep the deadlines computed at assignment.
func (s *CatalogService) UpsertSLADefinition(ctx context.Context, def domain.SLADefinition) (*domain.SLADefinition, error) {
	def.Category = strings.TrimSpace(def.Category)
	details := map[string]any{}
	if def.Category == "" {
		details["category"] = "required"
	}
	if !def.Priority.Valid() {
		details["priority"] = "must be one of low, medium, high, critical"
	}
	if def.ResponseTimeHours <= 0 {
		details["response_time_hours"] = "must be positive"
	}
	if def.ResolutionTimeHours <= 0 {
		details["resolution_time_hours"] = "must be positive"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid sla definition", details)
	}

	now := s.now()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.slas.Upsert(ctx, &def); err != nil {
		return nil, apperrors.MapError(err)
	}
	return &def, nil
}

// ListSLADefinitions lists the SLA catalog.
func (s *CatalogService) ListSLADefinitions(ctx context.Context) ([]domain.SLADefinition, error) {
	defs, err := s.slas.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return defs, nil
}

// CreateEscalationRule stores a rule; rules are evaluated by ascending Position.
func (s *CatalogService) CreateEscalationRule(ctx context.Context, rule domain.EscalationRule) (*domain.EscalationRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	now := s.now()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.rules.Create(ctx, &rule); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("rule already exists", map[string]any{"rule_id": rule.ID})
		}
		return nil, apperrors.MapError(err)
	}
	return &rule, nil
}

// ListEscalationRules lists rules in evaluation order.
func (s *CatalogService) ListEscalationRules(ctx context.Context) ([]domain.EscalationRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return rules, nil
}

func validateRule(rule domain.EscalationRule) error {
	details := map[string]any{}
	if strings.TrimSpace(rule.Name) == "" {
		details["name"] = "required"
	}
	if rule.Conditions.TimeOpenHours < 0 {
		details["time_open_hours"] = "must not be negative"
	}
	for _, p := range rule.Conditions.Priorities {
		if !p.Valid() {
			details["priorities"] = "unknown priority " + string(p)
		}
	}
	target := rule.Actions.EscalateTo
	switch target.Type {
	case domain.EscalateToTeamLead:
	case domain.EscalateToTeam:
		if target.TeamID == "" {
			details["escalate_to"] = "team target requires team_id"
		}
	case domain.EscalateToUser:
		if target.UserID == "" {
			details["escalate_to"] = "user target requires user_id"
		}
	default:
		details["escalate_to"] = "type must be team_lead, user or team"
	}
	if p := rule.Actions.ChangePriority; p != nil && !p.Valid() {
		details["change_priority"] = "unknown priority " + string(*p)
	}
	for _, ch := range rule.Actions.Notify {
		if ch != domain.ChannelEmail && ch != domain.ChannelSMS {
			details["notify"] = "channel must be email or sms"
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid escalation rule", details)
	}
	return nil
}
