package dto

import (
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// MemberRequest describes a team member.
type MemberRequest struct {
	UserID      string            `json:"user_id"`
	Role        domain.MemberRole `json:"role"`
	Skills      []string          `json:"skills"`
	MaxWorkload int               `json:"max_workload"`
}

// CreateTeamRequest payload.
type CreateTeamRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	IsDefault bool            `json:"is_default"`
	Members   []MemberRequest `json:"members"`
}

// MemberResponse exposes a member with its live workload.
type MemberResponse struct {
	UserID      string            `json:"user_id"`
	Role        domain.MemberRole `json:"role"`
	Skills      []string          `json:"skills"`
	Workload    int               `json:"workload"`
	MaxWorkload int               `json:"max_workload"`
}

// TeamResponse body.
type TeamResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	IsActive  bool             `json:"is_active"`
	IsDefault bool             `json:"is_default"`
	Members   []MemberResponse `json:"members"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewTeamResponse maps a team.
func NewTeamResponse(team *domain.Team) TeamResponse {
	members := make([]MemberResponse, 0, len(team.Members))
	for _, m := range team.Members {
		members = append(members, MemberResponse{
			UserID:      m.UserID,
			Role:        m.Role,
			Skills:      m.Skills,
			Workload:    m.Workload,
			MaxWorkload: m.MaxWorkload,
		})
	}
	return TeamResponse{
		ID:        team.ID,
		Name:      team.Name,
		Category:  team.Category,
		IsActive:  team.IsActive,
		IsDefault: team.IsDefault,
		Members:   members,
		CreatedAt: team.CreatedAt,
	}
}

// SLADefinitionRequest payload.
type SLADefinitionRequest struct {
	Category            string          `json:"category"`
	Priority            domain.Priority `json:"priority"`
	ResponseTimeHours   float64         `json:"response_time_hours"`
	ResolutionTimeHours float64         `json:"resolution_time_hours"`
}

// SLADefinitionResponse body.
type SLADefinitionResponse struct {
	ID                  string          `json:"id"`
	Category            string          `json:"category"`
	Priority            domain.Priority `json:"priority"`
	ResponseTimeHours   float64         `json:"response_time_hours"`
	ResolutionTimeHours float64         `json:"resolution_time_hours"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewSLADefinitionResponse maps a definition.
func NewSLADefinitionResponse(def *domain.SLADefinition) SLADefinitionResponse {
	return SLADefinitionResponse{
		ID:                  def.ID,
		Category:            def.Category,
		Priority:            def.Priority,
		ResponseTimeHours:   def.ResponseTimeHours,
		ResolutionTimeHours: def.ResolutionTimeHours,
		UpdatedAt:           def.UpdatedAt,
	}
}

// RuleConditions mirrors the rule's match conditions.
type RuleConditions struct {
	Categories    []string          `json:"categories"`
	Priorities    []domain.Priority `json:"priorities"`
	TimeOpenHours float64           `json:"time_open_hours"`
}

// RuleTarget names the escalation target.
type RuleTarget struct {
	Type   domain.EscalationTargetType `json:"type"`
	TeamID string                      `json:"team_id,omitempty"`
	UserID string                      `json:"user_id,omitempty"`
}

// RuleActions mirrors the rule's actions.
type RuleActions struct {
	EscalateTo     RuleTarget                   `json:"escalate_to"`
	ChangePriority *domain.Priority             `json:"change_priority,omitempty"`
	Notify         []domain.NotificationChannel `json:"notify"`
}

// EscalationRuleRequest payload.
type EscalationRuleRequest struct {
	Name       string         `json:"name"`
	Position   int            `json:"position"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
}

// EscalationRuleResponse body.
type EscalationRuleResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Position   int            `json:"position"`
	IsActive   bool           `json:"is_active"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
}

// ToDomain converts the request.
func (r EscalationRuleRequest) ToDomain() domain.EscalationRule {
	return domain.EscalationRule{
		Name:     r.Name,
		Position: r.Position,
		Conditions: domain.EscalationConditions{
			Categories:    r.Conditions.Categories,
			Priorities:    r.Conditions.Priorities,
			TimeOpenHours: r.Conditions.TimeOpenHours,
		},
		Actions: domain.EscalationActions{
			EscalateTo: domain.EscalationTarget{
				Type:   r.Actions.EscalateTo.Type,
				TeamID: r.Actions.EscalateTo.TeamID,
				UserID: r.Actions.EscalateTo.UserID,
			},
			ChangePriority: r.Actions.ChangePriority,
			Notify:         r.Actions.Notify,
		},
		IsActive: true,
	}
}

// NewEscalationRuleResponse maps a rule.
func NewEscalationRuleResponse(rule *domain.EscalationRule) EscalationRuleResponse {
	return EscalationRuleResponse{
		ID:       rule.ID,
		Name:     rule.Name,
		Position: rule.Position,
		IsActive: rule.IsActive,
		Conditions: RuleConditions{
			Categories:    rule.Conditions.Categories,
			Priorities:    rule.Conditions.Priorities,
			TimeOpenHours: rule.Conditions.TimeOpenHours,
		},
		Actions: RuleActions{
			EscalateTo: RuleTarget{
				Type:   rule.Actions.EscalateTo.Type,
				TeamID: rule.Actions.EscalateTo.TeamID,
				UserID: rule.Actions.EscalateTo.UserID,
			},
			ChangePriority: rule.Actions.ChangePriority,
			Notify:         rule.Actions.Notify,
		},
	}
}
