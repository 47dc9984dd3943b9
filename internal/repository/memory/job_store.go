package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

// JobStore is an in-memory job queue. Claim is serialized by the store mutex.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

var _ repository.JobRepository = (*JobStore)(nil)

func (s *JobStore) Insert(_ context.Context, job *domain.Job) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.DedupeKey != nil {
		if existing := s.activeByKey(*job.DedupeKey); existing != nil {
			return existing.ID, false, nil
		}
	}
	if _, ok := s.jobs[job.ID]; ok {
		return "", false, repository.ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return job.ID, true, nil
}

func (s *JobStore) Claim(_ context.Context, workerID string, now time.Time, lease time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for _, job := range s.jobs {
		if !job.Status.Claimable() || job.ScheduledFor.After(now) {
			continue
		}
		if next == nil || job.ScheduledFor.Before(next.ScheduledFor) ||
			(job.ScheduledFor.Equal(next.ScheduledFor) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	expires := now.Add(lease)
	claimedAt := now
	worker := workerID
	next.Status = domain.JobStatusClaimed
	next.ClaimedBy = &worker
	next.ClaimedAt = &claimedAt
	next.LeaseExpiresAt = &expires
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func (s *JobStore) Complete(_ context.Context, jobID, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !heldBy(job, workerID) {
		return repository.ErrLeaseLost
	}
	job.Status = domain.JobStatusSucceeded
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *JobStore) Fail(_ context.Context, u repository.FailUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[u.JobID]
	if !ok || !heldBy(job, u.WorkerID) {
		return repository.ErrLeaseLost
	}
	lastErr := u.LastError
	job.Attempt = u.Attempt
	job.Status = u.Status
	job.ScheduledFor = u.ScheduledFor
	job.LastError = &lastErr
	job.ClaimedBy = nil
	job.ClaimedAt = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = u.Now
	return nil
}

func (s *JobStore) ListExpiredClaims(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	out := s.collect(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusClaimed && j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseExpiresAt.Before(*out[j].LeaseExpiresAt) })
	return page(out, 0, limit), nil
}

func (s *JobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) ListByStatus(_ context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	out := s.collect(func(j *domain.Job) bool { return j.Status == status })
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return page(out, offset, limit), nil
}

func (s *JobStore) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *JobStore) Requeue(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != domain.JobStatusFailedTerminal {
		return repository.ErrInvalidState
	}
	if job.DedupeKey != nil && s.activeByKey(*job.DedupeKey) != nil {
		return repository.ErrDuplicate
	}
	job.Status = domain.JobStatusPending
	job.Attempt = 0
	job.ScheduledFor = now
	job.UpdatedAt = now
	return nil
}

func (s *JobStore) PurgeSucceeded(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status == domain.JobStatusSucceeded && job.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every stored job ordered by creation.
func (s *JobStore) All() []domain.Job {
	out := s.collect(func(*domain.Job) bool { return true })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *JobStore) activeByKey(key string) *domain.Job {
	for _, job := range s.jobs {
		if job.DedupeKey != nil && *job.DedupeKey == key && job.Status.Active() {
			return job
		}
	}
	return nil
}

func (s *JobStore) collect(keep func(*domain.Job) bool) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, *cloneJob(job))
		}
	}
	return out
}

func heldBy(job *domain.Job, workerID string) bool {
	return job.Status == domain.JobStatusClaimed && job.ClaimedBy != nil && *job.ClaimedBy == workerID
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	if j.Payload.Level != nil {
		lvl := *j.Payload.Level
		cp.Payload.Level = &lvl
	}
	return &cp
}
