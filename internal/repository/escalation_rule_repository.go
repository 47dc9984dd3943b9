package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// EscalationRuleRepository stores the ordered escalation rule list.
type EscalationRuleRepository interface {
	Create(ctx context.Context, rule *domain.EscalationRule) error
	// ListActive returns active rules ordered by position then id.
	ListActive(ctx context.Context) ([]domain.EscalationRule, error)
	List(ctx context.Context) ([]domain.EscalationRule, error)
}

type escalationRuleRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRuleRepository constructs repository.
func NewEscalationRuleRepository(pool *pgxpool.Pool) EscalationRuleRepository {
	return &escalationRuleRepository{pool: pool}
}

// Conditions and actions are stored as JSONB documents.
type ruleConditionsDoc struct {
	Categories    []string          `json:"categories,omitempty"`
	Priorities    []domain.Priority `json:"priorities,omitempty"`
	TimeOpenHours float64           `json:"timeOpen,omitempty"`
}

type ruleActionsDoc struct {
	EscalateTo struct {
		Type   domain.EscalationTargetType `json:"type"`
		TeamID string                      `json:"teamId,omitempty"`
		UserID string                      `json:"userId,omitempty"`
	} `json:"escalateTo"`
	ChangePriority *domain.Priority             `json:"changePriority,omitempty"`
	Notify         []domain.NotificationChannel `json:"notify,omitempty"`
}

func (r *escalationRuleRepository) Create(ctx context.Context, rule *domain.EscalationRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO escalation_rules (id, name, position, conditions, actions, is_active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.pool.Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.Position,
		conditions,
		actions,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return translate(err)
}

func (r *escalationRuleRepository) ListActive(ctx context.Context) ([]domain.EscalationRule, error) {
	return r.query(ctx, `
        SELECT id, name, position, conditions, actions, is_active, created_at, updated_at
        FROM escalation_rules WHERE is_active ORDER BY position ASC, id ASC`)
}

func (r *escalationRuleRepository) List(ctx context.Context) ([]domain.EscalationRule, error) {
	return r.query(ctx, `
        SELECT id, name, position, conditions, actions, is_active, created_at, updated_at
        FROM escalation_rules ORDER BY position ASC, id ASC`)
}

func (r *escalationRuleRepository) query(ctx context.Context, query string) ([]domain.EscalationRule, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.EscalationRule
	for rows.Next() {
		var rule domain.EscalationRule
		var conditions, actions []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Position,
			&conditions,
			&actions,
			&rule.IsActive,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := decodeRule(&rule, conditions, actions); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func encodeRule(rule *domain.EscalationRule) ([]byte, []byte, error) {
	cond := ruleConditionsDoc{
		Categories:    rule.Conditions.Categories,
		Priorities:    rule.Conditions.Priorities,
		TimeOpenHours: rule.Conditions.TimeOpenHours,
	}
	var act ruleActionsDoc
	act.EscalateTo.Type = rule.Actions.EscalateTo.Type
	act.EscalateTo.TeamID = rule.Actions.EscalateTo.TeamID
	act.EscalateTo.UserID = rule.Actions.EscalateTo.UserID
	act.ChangePriority = rule.Actions.ChangePriority
	act.Notify = rule.Actions.Notify

	condJSON, err := json.Marshal(cond)
	if err != nil {
		return nil, nil, err
	}
	actJSON, err := json.Marshal(act)
	if err != nil {
		return nil, nil, err
	}
	return condJSON, actJSON, nil
}

func decodeRule(rule *domain.EscalationRule, conditions, actions []byte) error {
	var cond ruleConditionsDoc
	if err := json.Unmarshal(conditions, &cond); err != nil {
		return err
	}
	var act ruleActionsDoc
	if err := json.Unmarshal(actions, &act); err != nil {
		return err
	}
	rule.Conditions = domain.EscalationConditions{
		Categories:    cond.Categories,
		Priorities:    cond.Priorities,
		TimeOpenHours: cond.TimeOpenHours,
	}
	rule.Actions = domain.EscalationActions{
		EscalateTo: domain.EscalationTarget{
			Type:   act.EscalateTo.Type,
			TeamID: act.EscalateTo.TeamID,
			UserID: act.EscalateTo.UserID,
		},
		ChangePriority: act.ChangePriority,
		Notify:         act.Notify,
	}
	return nil
}
