package domain

import "time"

// ItemKind distinguishes the work item flavours routed by the engine.
type ItemKind string

const (
	ItemKindTicket ItemKind = "ticket"
	ItemKindLead   ItemKind = "lead"
)

// ItemStatus enumerates lifecycle states for items.
type ItemStatus string

const (
	ItemStatusOpen            ItemStatus = "open"
	ItemStatusAssigned        ItemStatus = "assigned"
	ItemStatusInProgress      ItemStatus = "in_progress"
	ItemStatusPendingCustomer ItemStatus = "pending_customer"
	ItemStatusResolved        ItemStatus = "resolved"
	ItemStatusClosed          ItemStatus = "closed"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusOpen, ItemStatusAssigned, ItemStatusInProgress,
		ItemStatusPendingCustomer, ItemStatusResolved, ItemStatusClosed:
		return true
	}
	return false
}

// Done reports whether the item no longer needs SLA or escalation handling.
func (s ItemStatus) Done() bool {
	return s == ItemStatusResolved || s == ItemStatusClosed
}

// Terminal reports whether no further transition is possible.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusClosed
}

// CountsTowardWorkload reports whether an assignee carries the item in its workload.
func (s ItemStatus) CountsTowardWorkload() bool {
	return s == ItemStatusAssigned || s == ItemStatusInProgress
}

var transitions = map[ItemStatus][]ItemStatus{
	ItemStatusOpen:            {ItemStatusAssigned, ItemStatusResolved, ItemStatusClosed},
	ItemStatusAssigned:        {ItemStatusInProgress, ItemStatusPendingCustomer, ItemStatusResolved, ItemStatusClosed},
	ItemStatusInProgress:      {ItemStatusPendingCustomer, ItemStatusResolved, ItemStatusClosed},
	ItemStatusPendingCustomer: {ItemStatusInProgress, ItemStatusResolved, ItemStatusClosed},
	ItemStatusResolved:        {ItemStatusClosed, ItemStatusInProgress},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	return contains(transitions[s], next)
}

// Priority enumerates SLA urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// PrefersLead reports whether member selection should favour team leads.
func (p Priority) PrefersLead() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// SLA holds deadlines computed when the item was assigned.
type SLA struct {
	ResponseDeadline     *time.Time `json:"response_deadline,omitempty"`
	ResolutionDeadline   *time.Time `json:"resolution_deadline,omitempty"`
	ResponseBreachedAt   *time.Time `json:"response_breached_at,omitempty"`
	ResolutionBreachedAt *time.Time `json:"resolution_breached_at,omitempty"`
}

// Escalation tracks how far an item has been escalated.
type Escalation struct {
	Level           int        `json:"level"`
	LastEscalatedAt *time.Time `json:"last_escalated_at,omitempty"`
}

// Item is the ticket or lead owned by the workflow engine.
type Item struct {
	ID               string
	TenantID         string
	Kind             ItemKind
	Title            string
	Description      string
	Category         string
	Priority         Priority
	Status           ItemStatus
	AssignedTeamID   *string
	AssignedMemberID *string
	SLA              SLA
	Escalation       Escalation
	FirstResponseAt  *time.Time
	StatusChangedAt  time.Time
	History          []HistoryEntry
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Assignee returns the team and member currently holding the item, if any.
func (i *Item) Assignee() (teamID, memberID string, ok bool) {
	if i.AssignedTeamID == nil || i.AssignedMemberID == nil {
		return "", "", false
	}
	return *i.AssignedTeamID, *i.AssignedMemberID, true
}

// Clone returns a deep copy safe to mutate independently.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.AssignedTeamID = cloneString(i.AssignedTeamID)
	cp.AssignedMemberID = cloneString(i.AssignedMemberID)
	cp.SLA = SLA{
		ResponseDeadline:     cloneTime(i.SLA.ResponseDeadline),
		ResolutionDeadline:   cloneTime(i.SLA.ResolutionDeadline),
		ResponseBreachedAt:   cloneTime(i.SLA.ResponseBreachedAt),
		ResolutionBreachedAt: cloneTime(i.SLA.ResolutionBreachedAt),
	}
	cp.Escalation.LastEscalatedAt = cloneTime(i.Escalation.LastEscalatedAt)
	cp.FirstResponseAt = cloneTime(i.FirstResponseAt)
	cp.History = append([]HistoryEntry(nil), i.History...)
	return &cp
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
