package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// ItemFilter captures listing parameters for the inbound API.
type ItemFilter struct {
	TenantID         string
	Statuses         []domain.ItemStatus
	Priorities       []domain.Priority
	Category         *string
	AssignedMemberID *string
	Limit            int
	Offset           int
}

// ScanFilter selects not-yet-resolved items for periodic re-scans using keyset pagination.
type ScanFilter struct {
	AfterID            string
	Limit              int
	BelowLevel         *int
	LastEscalatedUntil *time.Time
	WithSLAOnly        bool
}

// MemberKey identifies one member inside one team.
type MemberKey struct {
	TeamID string
	UserID string
}

// ItemRepository encapsulates item persistence.
type ItemRepository interface {
	Create(ctx context.Context, item *domain.Item) error
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	// Update writes item if its stored version still equals item.Version and appends entries.
	Update(ctx context.Context, item *domain.Item, entries ...domain.HistoryEntry) error
	ListWithFilter(ctx context.Context, filter ItemFilter) ([]domain.Item, error)
	ListForScan(ctx context.Context, filter ScanFilter) ([]domain.Item, error)
	CountActiveByMember(ctx context.Context) (map[MemberKey]int, error)
}

type itemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository instantiates repository.
func NewItemRepository(pool *pgxpool.Pool) ItemRepository {
	return &itemRepository{pool: pool}
}

const itemColumns = `id, tenant_id, kind, title, description, category, priority, status,
        assigned_team_id, assigned_member_id, response_deadline, resolution_deadline,
        response_breached_at, resolution_breached_at, escalation_level, last_escalated_at,
        first_response_at, status_changed_at, version, created_at, updated_at`

func (r *itemRepository) Create(ctx context.Context, item *domain.Item) error {
	const query = `
        INSERT INTO items (id, tenant_id, kind, title, description, category, priority, status,
            assigned_team_id, assigned_member_id, escalation_level, status_changed_at, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			item.ID,
			item.TenantID,
			item.Kind,
			item.Title,
			item.Description,
			item.Category,
			item.Priority,
			item.Status,
			item.AssignedTeamID,
			item.AssignedMemberID,
			item.Escalation.Level,
			item.StatusChangedAt,
			item.Version,
			item.CreatedAt,
			item.UpdatedAt,
		); err != nil {
			return translate(err)
		}
		return insertHistory(ctx, tx, item.History)
	})
}

func (r *itemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id=$1`
	item, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	history, err := r.listHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	item.History = history
	return item, nil
}

func (r *itemRepository) Update(ctx context.Context, item *domain.Item, entries ...domain.HistoryEntry) error {
	const query = `
        UPDATE items SET category=$1, priority=$2, status=$3, assigned_team_id=$4, assigned_member_id=$5,
            response_deadline=$6, resolution_deadline=$7, response_breached_at=$8, resolution_breached_at=$9,
            escalation_level=$10, last_escalated_at=$11, first_response_at=$12, status_changed_at=$13,
            title=$14, description=$15, version=version+1, updated_at=$16
        WHERE id=$17 AND version=$18`
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			item.Category,
			item.Priority,
			item.Status,
			item.AssignedTeamID,
			item.AssignedMemberID,
			item.SLA.ResponseDeadline,
			item.SLA.ResolutionDeadline,
			item.SLA.ResponseBreachedAt,
			item.SLA.ResolutionBreachedAt,
			item.Escalation.Level,
			item.Escalation.LastEscalatedAt,
			item.FirstResponseAt,
			item.StatusChangedAt,
			item.Title,
			item.Description,
			item.UpdatedAt,
			item.ID,
			item.Version,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id=$1)`, item.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		return insertHistory(ctx, tx, entries)
	})
	if err != nil {
		return translate(err)
	}
	item.Version++
	item.History = append(item.History, entries...)
	return nil
}

func (r *itemRepository) ListWithFilter(ctx context.Context, filter ItemFilter) ([]domain.Item, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.AssignedMemberID != nil {
		args = append(args, *filter.AssignedMemberID)
		clauses = append(clauses, fmt.Sprintf("assigned_member_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		itemColumns, strings.Join(clauses, " AND "), limit, offset)
	return r.query(ctx, query, args...)
}

func (r *itemRepository) ListForScan(ctx context.Context, filter ScanFilter) ([]domain.Item, error) {
	clauses := []string{"status NOT IN ('resolved','closed')"}
	args := []any{}

	if filter.AfterID != "" {
		args = append(args, filter.AfterID)
		clauses = append(clauses, fmt.Sprintf("id > $%d", len(args)))
	}
	if filter.BelowLevel != nil {
		args = append(args, *filter.BelowLevel)
		clauses = append(clauses, fmt.Sprintf("escalation_level < $%d", len(args)))
	}
	if filter.LastEscalatedUntil != nil {
		args = append(args, *filter.LastEscalatedUntil)
		clauses = append(clauses, fmt.Sprintf("(last_escalated_at IS NULL OR last_escalated_at <= $%d)", len(args)))
	}
	if filter.WithSLAOnly {
		clauses = append(clauses, "(response_deadline IS NOT NULL OR resolution_deadline IS NOT NULL)")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY id ASC LIMIT %d`,
		itemColumns, strings.Join(clauses, " AND "), limit)
	return r.query(ctx, query, args...)
}

func (r *itemRepository) CountActiveByMember(ctx context.Context) (map[MemberKey]int, error) {
	const query = `
        SELECT assigned_team_id, assigned_member_id, COUNT(*)
        FROM items
        WHERE status IN ('assigned','in_progress')
          AND assigned_team_id IS NOT NULL AND assigned_member_id IS NOT NULL
        GROUP BY assigned_team_id, assigned_member_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[MemberKey]int)
	for rows.Next() {
		var key MemberKey
		var count int
		if err := rows.Scan(&key.TeamID, &key.UserID, &count); err != nil {
			return nil, err
		}
		result[key] = count
	}
	return result, rows.Err()
}

func (r *itemRepository) query(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	return result, rows.Err()
}

func (r *itemRepository) listHistory(ctx context.Context, itemID string) ([]domain.HistoryEntry, error) {
	const query = `
        SELECT id, item_id, changed_by, changed_by_id, change_type, job_id, old_value, new_value, created_at
        FROM item_history WHERE item_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ItemID,
			&entry.ChangedBy,
			&entry.ChangedByID,
			&entry.ChangeType,
			&entry.JobID,
			&entry.OldValue,
			&entry.NewValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, entries []domain.HistoryEntry) error {
	const query = `
        INSERT INTO item_history (id, item_id, changed_by, changed_by_id, change_type, job_id, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, entry := range entries {
		if _, err := tx.Exec(ctx, query,
			entry.ID,
			entry.ItemID,
			entry.ChangedBy,
			entry.ChangedByID,
			entry.ChangeType,
			entry.JobID,
			entry.OldValue,
			entry.NewValue,
			entry.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func scanItem(row pgx.Row) (*domain.Item, error) {
	var item domain.Item
	if err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.Kind,
		&item.Title,
		&item.Description,
		&item.Category,
		&item.Priority,
		&item.Status,
		&item.AssignedTeamID,
		&item.AssignedMemberID,
		&item.SLA.ResponseDeadline,
		&item.SLA.ResolutionDeadline,
		&item.SLA.ResponseBreachedAt,
		&item.SLA.ResolutionBreachedAt,
		&item.Escalation.Level,
		&item.Escalation.LastEscalatedAt,
		&item.FirstResponseAt,
		&item.StatusChangedAt,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
