package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// FailUpdate describes how a failed claim is written back.
type FailUpdate struct {
	JobID        string
	WorkerID     string
	Attempt      int
	Status       domain.JobStatus
	ScheduledFor time.Time
	LastError    string
	Now          time.Time
}

// JobRepository is the durable job store.
type JobRepository interface {
	// Insert stores job unless another active job holds the same dedupe key, in which
	// case the existing id is returned with created=false.
	Insert(ctx context.Context, job *domain.Job) (id string, created bool, err error)
	// Claim atomically hands one due job to workerID; nil means nothing is due.
	Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*domain.Job, error)
	Complete(ctx context.Context, jobID, workerID string, now time.Time) error
	Fail(ctx context.Context, update FailUpdate) error
	ListExpiredClaims(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ListByStatus(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	Requeue(ctx context.Context, id string, now time.Time) error
	PurgeSucceeded(ctx context.Context, before time.Time) (int64, error)
}

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository constructs repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepository{pool: pool}
}

const jobColumns = `id, type, payload, dedupe_key, scheduled_for, attempt, max_attempts, status,
        claimed_by, claimed_at, lease_expires_at, last_error, created_at, updated_at`

func (r *jobRepository) Insert(ctx context.Context, job *domain.Job) (string, bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return "", false, err
	}
	const query = `
        INSERT INTO jobs (id, type, payload, dedupe_key, scheduled_for, attempt, max_attempts, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (dedupe_key) WHERE status IN ('pending','claimed','failed_retryable') DO NOTHING
        RETURNING id`
	var id string
	err = r.pool.QueryRow(ctx, query,
		job.ID,
		job.Type,
		payload,
		job.DedupeKey,
		job.ScheduledFor,
		job.Attempt,
		job.MaxAttempts,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || job.DedupeKey == nil {
		return "", false, translate(err)
	}

	const existing = `
        SELECT id FROM jobs
        WHERE dedupe_key=$1 AND status IN ('pending','claimed','failed_retryable')`
	if err := r.pool.QueryRow(ctx, existing, *job.DedupeKey).Scan(&id); err != nil {
		return "", false, translate(err)
	}
	return id, false, nil
}

func (r *jobRepository) Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*domain.Job, error) {
	query := `
        UPDATE jobs SET status='claimed', claimed_by=$1, claimed_at=$2, lease_expires_at=$3, updated_at=$2
        WHERE id = (
            SELECT id FROM jobs
            WHERE status IN ('pending','failed_retryable') AND scheduled_for <= $2
            ORDER BY scheduled_for ASC, id ASC
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING ` + jobColumns
	job, err := scanJob(r.pool.QueryRow(ctx, query, workerID, now, now.Add(lease)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) Complete(ctx context.Context, jobID, workerID string, now time.Time) error {
	const query = `
        UPDATE jobs SET status='succeeded', lease_expires_at=NULL, updated_at=$3
        WHERE id=$1 AND status='claimed' AND claimed_by=$2`
	cmd, err := r.pool.Exec(ctx, query, jobID, workerID, now)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *jobRepository) Fail(ctx context.Context, u FailUpdate) error {
	const query = `
        UPDATE jobs SET attempt=$3, status=$4, scheduled_for=$5, last_error=$6,
            claimed_by=NULL, claimed_at=NULL, lease_expires_at=NULL, updated_at=$7
        WHERE id=$1 AND status='claimed' AND claimed_by=$2`
	cmd, err := r.pool.Exec(ctx, query, u.JobID, u.WorkerID, u.Attempt, u.Status, u.ScheduledFor, u.LastError, u.Now)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *jobRepository) ListExpiredClaims(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
        WHERE status='claimed' AND lease_expires_at <= $1
        ORDER BY lease_expires_at ASC LIMIT $2`
	return r.query(ctx, query, now, limit)
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return job, nil
}

func (r *jobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status=$1 ORDER BY updated_at DESC, id ASC LIMIT $2 OFFSET $3`
	return r.query(ctx, query, status, limit, offset)
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *jobRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	const query = `
        UPDATE jobs SET status='pending', attempt=0, scheduled_for=$2, updated_at=$2
        WHERE id=$1 AND status='failed_terminal'`
	cmd, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func (r *jobRepository) PurgeSucceeded(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE status='succeeded' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *jobRepository) query(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payload []byte
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.DedupeKey,
		&job.ScheduledFor,
		&job.Attempt,
		&job.MaxAttempts,
		&job.Status,
		&job.ClaimedBy,
		&job.ClaimedAt,
		&job.LeaseExpiresAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, err
		}
	}
	return &job, nil
}
