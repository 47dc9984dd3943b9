package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

// JobQueue is the part of the job dispatcher used by periodic scans.
type JobQueue interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (string, error)
	ReclaimExpired(ctx context.Context, limit int) (int, error)
	PurgeSucceeded(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Scanner re-evaluates non-terminal items in bounded batches. Each scan keeps a keyset
// cursor so consecutive ticks walk the whole backlog and then wrap around.
type Scanner struct {
	items     repository.ItemRepository
	teams     repository.TeamRepository
	queue     JobQueue
	logger    *zap.Logger
	metrics   *observability.Metrics
	batch     int
	maxJitter time.Duration
	retention time.Duration
	maxLevel  int
	cooldown  time.Duration
	now       func() time.Time
	jitter    func(max time.Duration) time.Duration

	mu      sync.Mutex
	cursors map[string]string
}

// ScannerDependencies bundles collaborators.
type ScannerDependencies struct {
	ItemRepo  repository.ItemRepository
	TeamRepo  repository.TeamRepository
	Queue     JobQueue
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Batch     int
	MaxJitter time.Duration
	Retention time.Duration
	MaxLevel  int
	Cooldown  time.Duration
	Now       func() time.Time
	// Jitter returns a delay in [0, max); defaults to a uniform random value.
	Jitter func(max time.Duration) time.Duration
}

// NewScanner creates the scanner.
func NewScanner(deps ScannerDependencies) *Scanner {
	s := &Scanner{
		items:     deps.ItemRepo,
		teams:     deps.TeamRepo,
		queue:     deps.Queue,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		batch:     deps.Batch,
		maxJitter: deps.MaxJitter,
		retention: deps.Retention,
		maxLevel:  deps.MaxLevel,
		cooldown:  deps.Cooldown,
		now:       deps.Now,
		jitter:    deps.Jitter,
		cursors:   make(map[string]string),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.batch <= 0 {
		s.batch = 100
	}
	if s.maxLevel <= 0 {
		s.maxLevel = 3
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.jitter == nil {
		s.jitter = uniformJitter
	}
	return s
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// ScanSLA enqueues check_sla for items whose deadlines have passed without a recorded
// breach and re-enqueues auto_assign for open items nobody picked up.
func (s *Scanner) ScanSLA(ctx context.Context) (int, error) {
	now := s.now()
	items, err := s.nextBatch(ctx, "sla", repository.ScanFilter{})
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, item := range items {
		var req *jobs.EnqueueRequest
		switch {
		case item.Status == domain.ItemStatusOpen && item.AssignedMemberID == nil:
			req = &jobs.EnqueueRequest{
				Type:      domain.JobAutoAssign,
				DedupeKey: "auto_assign:" + item.ID,
			}
		case slaDue(&item, now):
			req = &jobs.EnqueueRequest{
				Type:      domain.JobCheckSLA,
				DedupeKey: fmt.Sprintf("check_sla:%s:scan", item.ID),
			}
		default:
			continue
		}
		req.Payload = domain.JobPayload{ItemID: item.ID, TenantID: item.TenantID}
		req.ScheduledFor = now.Add(s.jitter(s.maxJitter))
		if _, err := s.queue.Enqueue(ctx, *req); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	s.metrics.ScanEnqueued("sla", enqueued)
	s.logger.Debug("sla scan finished", zap.Int("scanned", len(items)), zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// ScanEscalations enqueues periodic_review escalations for items below the maximum level
// whose cool-down has elapsed.
func (s *Scanner) ScanEscalations(ctx context.Context) (int, error) {
	now := s.now()
	maxLevel := s.maxLevel
	until := now.Add(-s.cooldown)
	items, err := s.nextBatch(ctx, "escalation", repository.ScanFilter{
		BelowLevel:         &maxLevel,
		LastEscalatedUntil: &until,
	})
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, item := range items {
		level := item.Escalation.Level
		if _, err := s.queue.Enqueue(ctx, jobs.EnqueueRequest{
			Type: domain.JobEscalate,
			Payload: domain.JobPayload{
				ItemID:   item.ID,
				TenantID: item.TenantID,
				Reason:   domain.ReasonPeriodicReview,
				Level:    &level,
			},
			DedupeKey:    fmt.Sprintf("escalate:%s:%d", item.ID, level),
			ScheduledFor: now.Add(s.jitter(s.maxJitter)),
		}); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	s.metrics.ScanEnqueued("escalation", enqueued)
	s.logger.Debug("escalation scan finished", zap.Int("scanned", len(items)), zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// ReclaimExpired re-admits claims whose lease ran out.
func (s *Scanner) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := s.queue.ReclaimExpired(ctx, s.batch)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Warn("reclaimed expired job claims", zap.Int("count", n))
	}
	return n, nil
}

// PurgeRetention deletes succeeded jobs older than the retention window.
func (s *Scanner) PurgeRetention(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	n, err := s.queue.PurgeSucceeded(ctx, s.retention)
	if err != nil {
		return 0, err
	}
	s.logger.Info("purged succeeded jobs", zap.Int64("count", n))
	return n, nil
}

// Drift is a member whose stored workload differs from its recount.
type Drift struct {
	TeamID   string
	UserID   string
	Stored   int
	Expected int
}

// AuditWorkload recounts active items per member and reports differences from the
// stored counters. It does not modify counters.
func (s *Scanner) AuditWorkload(ctx context.Context) ([]Drift, error) {
	teams, err := s.teams.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.items.CountActiveByMember(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, team := range teams {
		for _, m := range team.Members {
			expected := counts[repository.MemberKey{TeamID: team.ID, UserID: m.UserID}]
			s.metrics.SetWorkloadDrift(team.ID, m.UserID, m.Workload-expected)
			if m.Workload == expected {
				continue
			}
			drifts = append(drifts, Drift{TeamID: team.ID, UserID: m.UserID, Stored: m.Workload, Expected: expected})
			s.logger.Warn("workload drift",
				zap.String("team_id", team.ID),
				zap.String("member_id", m.UserID),
				zap.Int("stored", m.Workload),
				zap.Int("expected", expected))
		}
	}

	if stats, err := s.queue.Stats(ctx); err == nil {
		counts := make(map[string]int, len(stats))
		for status, n := range stats {
			counts[string(status)] = n
		}
		s.metrics.SetJobCounts(counts)
	}
	return drifts, nil
}

func (s *Scanner) nextBatch(ctx context.Context, scan string, filter repository.ScanFilter) ([]domain.Item, error) {
	s.mu.Lock()
	filter.AfterID = s.cursors[scan]
	s.mu.Unlock()
	filter.Limit = s.batch

	items, err := s.items.ListForScan(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(items) < s.batch {
		delete(s.cursors, scan)
	} else {
		s.cursors[scan] = items[len(items)-1].ID
	}
	s.mu.Unlock()
	return items, nil
}

func slaDue(item *domain.Item, now time.Time) bool {
	sla := item.SLA
	if sla.ResponseDeadline != nil && sla.ResponseBreachedAt == nil && item.FirstResponseAt == nil && now.After(*sla.ResponseDeadline) {
		return true
	}
	return sla.ResolutionDeadline != nil && sla.ResolutionBreachedAt == nil && now.After(*sla.ResolutionDeadline)
}
