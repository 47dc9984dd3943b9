package events

import (
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventItemAssigned          EventType = "item_assigned"
	EventItemStatusChanged     EventType = "item_status_changed"
	EventItemEscalated         EventType = "item_escalated"
	EventSLABreached           EventType = "sla_breached"
	EventNotificationRequested EventType = "notification_requested"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   *string          `json:"id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ItemID    string    `json:"item_id"`
	TenantID  string    `json:"tenant_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ItemAssignedPayload payload.
type ItemAssignedPayload struct {
	TeamID   string `json:"team_id"`
	MemberID string `json:"member_id"`
}

// ItemStatusChangedPayload payload.
type ItemStatusChangedPayload struct {
	OldStatus domain.ItemStatus `json:"old_status"`
	NewStatus domain.ItemStatus `json:"new_status"`
}

// ItemEscalatedPayload payload.
type ItemEscalatedPayload struct {
	RuleID   string `json:"rule_id"`
	Level    int    `json:"level"`
	Reason   string `json:"reason"`
	TeamID   string `json:"team_id,omitempty"`
	MemberID string `json:"member_id,omitempty"`
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	Kind     string    `json:"kind"`
	Deadline time.Time `json:"deadline"`
}

// NotificationPayload is handed to the outbound notification collaborator.
type NotificationPayload struct {
	Channel   domain.NotificationChannel `json:"channel"`
	Recipient string                     `json:"recipient,omitempty"`
	Title     string                     `json:"title"`
	Message   string                     `json:"message"`
	Reason    string                     `json:"reason,omitempty"`
}
