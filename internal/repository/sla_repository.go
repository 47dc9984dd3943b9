package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// SLARepository stores SLA definitions keyed by (category, priority).
type SLARepository interface {
	Upsert(ctx context.Context, def *domain.SLADefinition) error
	Get(ctx context.Context, category string, priority domain.Priority) (*domain.SLADefinition, error)
	List(ctx context.Context) ([]domain.SLADefinition, error)
}

type slaRepository struct {
	pool *pgxpool.Pool
}

// NewSLARepository constructs repository.
func NewSLARepository(pool *pgxpool.Pool) SLARepository {
	return &slaRepository{pool: pool}
}

func (r *slaRepository) Upsert(ctx context.Context, def *domain.SLADefinition) error {
	const query = `
        INSERT INTO sla_definitions (id, category, priority, response_time_hours, resolution_time_hours, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (category, priority) DO UPDATE
            SET response_time_hours=EXCLUDED.response_time_hours,
                resolution_time_hours=EXCLUDED.resolution_time_hours,
                updated_at=EXCLUDED.updated_at
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		def.ID,
		def.Category,
		def.Priority,
		def.ResponseTimeHours,
		def.ResolutionTimeHours,
		def.CreatedAt,
		def.UpdatedAt,
	).Scan(&def.ID, &def.CreatedAt)
}

func (r *slaRepository) Get(ctx context.Context, category string, priority domain.Priority) (*domain.SLADefinition, error) {
	const query = `
        SELECT id, category, priority, response_time_hours, resolution_time_hours, created_at, updated_at
        FROM sla_definitions WHERE category=$1 AND priority=$2`
	var def domain.SLADefinition
	if err := r.pool.QueryRow(ctx, query, category, priority).Scan(
		&def.ID,
		&def.Category,
		&def.Priority,
		&def.ResponseTimeHours,
		&def.ResolutionTimeHours,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, translate(err)
	}
	return &def, nil
}

func (r *slaRepository) List(ctx context.Context) ([]domain.SLADefinition, error) {
	const query = `
        SELECT id, category, priority, response_time_hours, resolution_time_hours, created_at, updated_at
        FROM sla_definitions ORDER BY category, priority`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.SLADefinition
	for rows.Next() {
		var def domain.SLADefinition
		if err := rows.Scan(
			&def.ID,
			&def.Category,
			&def.Priority,
			&def.ResponseTimeHours,
			&def.ResolutionTimeHours,
			&def.CreatedAt,
			&def.UpdatedAt,
		); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
