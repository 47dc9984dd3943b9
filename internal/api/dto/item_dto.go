package dto

import (
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// CreateItemRequest payload.
type CreateItemRequest struct {
	Kind        domain.ItemKind `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Priority    domain.Priority `json:"priority"`
}

// AssigneeRequest names a manual assignment target.
type AssigneeRequest struct {
	TeamID   string `json:"team_id"`
	MemberID string `json:"member_id"`
}

// UpdateItemRequest payload; omitted fields are left unchanged.
type UpdateItemRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Priority    *domain.Priority `json:"priority"`
	Assignee    *AssigneeRequest `json:"assignee"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Status domain.ItemStatus `json:"status"`
}

// SLAResponse exposes deadlines and breach marks.
type SLAResponse struct {
	ResponseDeadline     *time.Time `json:"response_deadline"`
	ResolutionDeadline   *time.Time `json:"resolution_deadline"`
	ResponseBreachedAt   *time.Time `json:"response_breached_at,omitempty"`
	ResolutionBreachedAt *time.Time `json:"resolution_breached_at,omitempty"`
}

// EscalationResponse exposes the escalation state.
type EscalationResponse struct {
	Level           int        `json:"level"`
	LastEscalatedAt *time.Time `json:"last_escalated_at"`
}

// ItemSummary response.
type ItemSummary struct {
	ID               string             `json:"id"`
	Kind             domain.ItemKind    `json:"kind"`
	Title            string             `json:"title"`
	Category         string             `json:"category"`
	Priority         domain.Priority    `json:"priority"`
	Status           domain.ItemStatus  `json:"status"`
	AssignedTeamID   *string            `json:"assigned_team_id"`
	AssignedMemberID *string            `json:"assigned_member_id"`
	SLA              SLAResponse        `json:"sla"`
	Escalation       EscalationResponse `json:"escalation"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ItemDetailResponse provides full item info including history.
type ItemDetailResponse struct {
	ItemSummary
	TenantID        string            `json:"tenant_id"`
	Description     string            `json:"description"`
	FirstResponseAt *time.Time        `json:"first_response_at"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
	Version         int               `json:"version"`
	History         []HistoryResponse `json:"history"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID          string            `json:"id"`
	ChangedBy   domain.ActorType  `json:"changed_by"`
	ChangedByID *string           `json:"changed_by_id,omitempty"`
	ChangeType  domain.ChangeType `json:"change_type"`
	JobID       *string           `json:"job_id,omitempty"`
	OldValue    map[string]any    `json:"old_value,omitempty"`
	NewValue    map[string]any    `json:"new_value,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewItemSummary maps an item to its summary.
func NewItemSummary(item *domain.Item) ItemSummary {
	return ItemSummary{
		ID:               item.ID,
		Kind:             item.Kind,
		Title:            item.Title,
		Category:         item.Category,
		Priority:         item.Priority,
		Status:           item.Status,
		AssignedTeamID:   item.AssignedTeamID,
		AssignedMemberID: item.AssignedMemberID,
		SLA: SLAResponse{
			ResponseDeadline:     item.SLA.ResponseDeadline,
			ResolutionDeadline:   item.SLA.ResolutionDeadline,
			ResponseBreachedAt:   item.SLA.ResponseBreachedAt,
			ResolutionBreachedAt: item.SLA.ResolutionBreachedAt,
		},
		Escalation: EscalationResponse{
			Level:           item.Escalation.Level,
			LastEscalatedAt: item.Escalation.LastEscalatedAt,
		},
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

// NewItemDetail maps an item and its history.
func NewItemDetail(item *domain.Item) ItemDetailResponse {
	history := make([]HistoryResponse, 0, len(item.History))
	for _, h := range item.History {
		history = append(history, HistoryResponse{
			ID:          h.ID,
			ChangedBy:   h.ChangedBy,
			ChangedByID: h.ChangedByID,
			ChangeType:  h.ChangeType,
			JobID:       h.JobID,
			OldValue:    h.OldValue,
			NewValue:    h.NewValue,
			CreatedAt:   h.CreatedAt,
		})
	}
	return ItemDetailResponse{
		ItemSummary:     NewItemSummary(item),
		TenantID:        item.TenantID,
		Description:     item.Description,
		FirstResponseAt: item.FirstResponseAt,
		StatusChangedAt: item.StatusChangedAt,
		Version:         item.Version,
		History:         history,
	}
}
