package domain

import "time"

// EscalationTargetType selects how an escalation resolves its new assignee.
type EscalationTargetType string

const (
	EscalateToTeamLead EscalationTargetType = "team_lead"
	EscalateToUser     EscalationTargetType = "user"
	EscalateToTeam     EscalationTargetType = "team"
)

// NotificationChannel is an outbound channel handled by the notification collaborator.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
)

// EscalationConditions decide whether a rule applies; empty lists match anything.
type EscalationConditions struct {
	Categories    []string
	Priorities    []Priority
	TimeOpenHours float64
}

// EscalationTarget names who receives an escalated item.
type EscalationTarget struct {
	Type   EscalationTargetType
	TeamID string
	UserID string
}

// EscalationActions are applied by the first matching rule.
type EscalationActions struct {
	EscalateTo     EscalationTarget
	ChangePriority *Priority
	Notify         []NotificationChannel
}

// EscalationRule is evaluated in Position order; the first match wins.
type EscalationRule struct {
	ID         string
	Name       string
	Position   int
	Conditions EscalationConditions
	Actions    EscalationActions
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Matches reports whether the rule covers the item's category and priority.
func (r EscalationRule) Matches(category string, priority Priority) bool {
	if !r.IsActive {
		return false
	}
	if len(r.Conditions.Categories) > 0 && !contains(r.Conditions.Categories, category) {
		return false
	}
	if len(r.Conditions.Priorities) > 0 && !contains(r.Conditions.Priorities, priority) {
		return false
	}
	return true
}

// TimeOpen is the minimum item age before the rule fires.
func (r EscalationRule) TimeOpen() time.Duration {
	return hours(r.Conditions.TimeOpenHours)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
