package domain

import "time"

// ChangeType captures what changed in a history entry.
type ChangeType string

const (
	ChangeTypeCreated       ChangeType = "CREATED"
	ChangeTypeStatus        ChangeType = "STATUS_CHANGE"
	ChangeTypeAssignment    ChangeType = "ASSIGNMENT"
	ChangeTypePriority      ChangeType = "PRIORITY_CHANGE"
	ChangeTypeSLAComputed   ChangeType = "SLA_COMPUTED"
	ChangeTypeSLABreached   ChangeType = "SLA_BREACHED"
	ChangeTypeEscalated     ChangeType = "ESCALATED"
	ChangeTypeFirstResponse ChangeType = "FIRST_RESPONSE"
	ChangeTypeAutoResolved  ChangeType = "AUTO_RESOLVED"
)

// ActorType tells who caused a change.
type ActorType string

const (
	ActorSystem ActorType = "SYSTEM"
	ActorUser   ActorType = "USER"
)

// HistoryEntry is an immutable audit trail entry.
type HistoryEntry struct {
	ID          string
	ItemID      string
	ChangedBy   ActorType
	ChangedByID *string
	ChangeType  ChangeType
	JobID       *string
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
