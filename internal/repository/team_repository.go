package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// TeamRepository manages persistence for teams and their members' workload counters.
type TeamRepository interface {
	Create(ctx context.Context, team *domain.Team) error
	GetByID(ctx context.Context, id string) (*domain.Team, error)
	List(ctx context.Context) ([]domain.Team, error)
	ListActiveByCategory(ctx context.Context, category string) ([]domain.Team, error)
	FindDefault(ctx context.Context) (*domain.Team, error)
	// TryIncrementWorkload bumps a member's workload only while it is below the maximum.
	TryIncrementWorkload(ctx context.Context, teamID, userID string) (bool, error)
	// AdjustWorkload adds delta unconditionally, never going below zero.
	AdjustWorkload(ctx context.Context, teamID, userID string, delta int) error
}

type teamRepository struct {
	pool *pgxpool.Pool
}

// NewTeamRepository constructs repository.
func NewTeamRepository(pool *pgxpool.Pool) TeamRepository {
	return &teamRepository{pool: pool}
}

const teamColumns = `id, name, category, is_active, is_default, created_at, updated_at`

func (r *teamRepository) Create(ctx context.Context, team *domain.Team) error {
	const teamQuery = `
        INSERT INTO teams (id, name, category, is_active, is_default, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	const memberQuery = `
        INSERT INTO team_members (team_id, user_id, role, skills, workload, max_workload)
        VALUES ($1,$2,$3,$4,$5,$6)`
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, teamQuery,
			team.ID,
			team.Name,
			team.Category,
			team.IsActive,
			team.IsDefault,
			team.CreatedAt,
			team.UpdatedAt,
		); err != nil {
			return err
		}
		for _, m := range team.Members {
			if _, err := tx.Exec(ctx, memberQuery,
				team.ID,
				m.UserID,
				m.Role,
				m.Skills,
				m.Workload,
				m.MaxWorkload,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

func (r *teamRepository) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id=$1`
	var team domain.Team
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&team.ID,
		&team.Name,
		&team.Category,
		&team.IsActive,
		&team.IsDefault,
		&team.CreatedAt,
		&team.UpdatedAt,
	); err != nil {
		return nil, translate(err)
	}
	teams, err := r.withMembers(ctx, []domain.Team{team})
	if err != nil {
		return nil, err
	}
	return &teams[0], nil
}

func (r *teamRepository) List(ctx context.Context) ([]domain.Team, error) {
	return r.query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id ASC`)
}

func (r *teamRepository) ListActiveByCategory(ctx context.Context, category string) ([]domain.Team, error) {
	return r.query(ctx, `SELECT `+teamColumns+` FROM teams WHERE category=$1 AND is_active ORDER BY id ASC`, category)
}

func (r *teamRepository) FindDefault(ctx context.Context) (*domain.Team, error) {
	teams, err := r.query(ctx, `SELECT `+teamColumns+` FROM teams WHERE is_default AND is_active ORDER BY id ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, ErrNotFound
	}
	return &teams[0], nil
}

func (r *teamRepository) TryIncrementWorkload(ctx context.Context, teamID, userID string) (bool, error) {
	const query = `
        UPDATE team_members SET workload = workload + 1
        WHERE team_id=$1 AND user_id=$2 AND workload < max_workload`
	cmd, err := r.pool.Exec(ctx, query, teamID, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *teamRepository) AdjustWorkload(ctx context.Context, teamID, userID string, delta int) error {
	const query = `
        UPDATE team_members SET workload = GREATEST(workload + $3, 0)
        WHERE team_id=$1 AND user_id=$2`
	cmd, err := r.pool.Exec(ctx, query, teamID, userID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *teamRepository) query(ctx context.Context, query string, args ...any) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(
			&team.ID,
			&team.Name,
			&team.Category,
			&team.IsActive,
			&team.IsDefault,
			&team.CreatedAt,
			&team.UpdatedAt,
		); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.withMembers(ctx, teams)
}

func (r *teamRepository) withMembers(ctx context.Context, teams []domain.Team) ([]domain.Team, error) {
	if len(teams) == 0 {
		return teams, nil
	}
	ids := make([]string, len(teams))
	index := make(map[string]int, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
		index[t.ID] = i
	}

	const query = `
        SELECT team_id, user_id, role, skills, workload, max_workload
        FROM team_members WHERE team_id = ANY($1) ORDER BY team_id, user_id`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var teamID string
		var m domain.Member
		if err := rows.Scan(&teamID, &m.UserID, &m.Role, &m.Skills, &m.Workload, &m.MaxWorkload); err != nil {
			return nil, err
		}
		i := index[teamID]
		teams[i].Members = append(teams[i].Members, m)
	}
	return teams, rows.Err()
}
