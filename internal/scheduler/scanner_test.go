package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository"
	"github.com/spec-kit/workflow-engine/internal/repository/memory"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type scanFixture struct {
	items   *memory.ItemStore
	teams   *memory.TeamStore
	store   *memory.JobStore
	scanner *Scanner
}

func newScanFixture(t *testing.T, batch int) *scanFixture {
	t.Helper()
	f := &scanFixture{
		items: memory.NewItemStore(),
		teams: memory.NewTeamStore(),
		store: memory.NewJobStore(),
	}
	clock := func() time.Time { return now }
	dispatcher := jobs.NewDispatcher(jobs.DispatcherDependencies{
		Store:  f.store,
		Config: config.EngineConfig{MaxAttempts: 5},
		Now:    clock,
	})
	f.scanner = NewScanner(ScannerDependencies{
		ItemRepo:  f.items,
		TeamRepo:  f.teams,
		Queue:     dispatcher,
		Batch:     batch,
		MaxJitter: 10 * time.Second,
		Retention: 24 * time.Hour,
		MaxLevel:  3,
		Cooldown:  time.Hour,
		Now:       clock,
		Jitter:    func(max time.Duration) time.Duration { return max / 2 },
	})
	return f
}

func (f *scanFixture) add(t *testing.T, item domain.Item) {
	t.Helper()
	if item.TenantID == "" {
		item.TenantID = "tenant-1"
	}
	item.Version = 1
	item.CreatedAt = now.Add(-48 * time.Hour)
	item.UpdatedAt = item.CreatedAt
	if err := f.items.Create(context.Background(), &item); err != nil {
		t.Fatalf("create %s: %v", item.ID, err)
	}
}

func (f *scanFixture) keys() map[string]domain.Job {
	out := make(map[string]domain.Job)
	for _, job := range f.store.All() {
		if job.DedupeKey != nil {
			out[*job.DedupeKey] = job
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestScanSLAEnqueuesDueChecksAndLostAssignments(t *testing.T) {
	f := newScanFixture(t, 100)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	f.add(t, domain.Item{ID: "a-unassigned", Status: domain.ItemStatusOpen})
	f.add(t, domain.Item{ID: "b-overdue", Status: domain.ItemStatusAssigned,
		AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-a"),
		SLA: domain.SLA{ResponseDeadline: &past, ResolutionDeadline: &future}})
	f.add(t, domain.Item{ID: "c-on-time", Status: domain.ItemStatusAssigned,
		AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-a"),
		SLA: domain.SLA{ResponseDeadline: &future, ResolutionDeadline: &future}})
	f.add(t, domain.Item{ID: "d-recorded", Status: domain.ItemStatusInProgress,
		AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-a"),
		SLA: domain.SLA{ResolutionDeadline: &past, ResolutionBreachedAt: &past}})
	f.add(t, domain.Item{ID: "e-resolved", Status: domain.ItemStatusResolved,
		SLA: domain.SLA{ResolutionDeadline: &past}})

	n, err := f.scanner.ScanSLA(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued %d, want 2", n)
	}
	keys := f.keys()
	assign, ok := keys["auto_assign:a-unassigned"]
	if !ok || assign.Type != domain.JobAutoAssign {
		t.Errorf("missing auto_assign for a-unassigned: %v", keys)
	}
	check, ok := keys["check_sla:b-overdue:scan"]
	if !ok || check.Type != domain.JobCheckSLA {
		t.Errorf("missing check_sla for b-overdue: %v", keys)
	}
	if want := now.Add(5 * time.Second); !check.ScheduledFor.Equal(want) {
		t.Errorf("check scheduled for %s, want %s", check.ScheduledFor, want)
	}

	// A second tick collapses onto the still pending jobs.
	if _, err := f.scanner.ScanSLA(context.Background()); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if got := len(f.store.All()); got != 2 {
		t.Errorf("jobs after second scan = %d, want 2", got)
	}
}

func TestScanWalksBacklogInBatches(t *testing.T) {
	f := newScanFixture(t, 2)
	for i := 0; i < 5; i++ {
		f.add(t, domain.Item{ID: fmt.Sprintf("item-%d", i), Status: domain.ItemStatusOpen})
	}

	ctx := context.Background()
	var counts []int
	for i := 0; i < 3; i++ {
		n, err := f.scanner.ScanSLA(ctx)
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		counts = append(counts, n)
	}
	if fmt.Sprint(counts) != "[2 2 1]" {
		t.Errorf("batches = %v, want [2 2 1]", counts)
	}
	if got := len(f.store.All()); got != 5 {
		t.Fatalf("jobs = %d, want 5", got)
	}

	// The cursor wrapped; the next tick starts from the first item again.
	items, err := f.scanner.nextBatch(ctx, "sla", repository.ScanFilter{})
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(items) != 2 || items[0].ID != "item-0" {
		t.Errorf("batch after wrap starts at %v", items)
	}
}

func TestScanEscalationsHonoursLevelAndCooldown(t *testing.T) {
	f := newScanFixture(t, 100)
	recent := now.Add(-30 * time.Minute)
	old := now.Add(-2 * time.Hour)
	f.add(t, domain.Item{ID: "fresh", Status: domain.ItemStatusAssigned})
	f.add(t, domain.Item{ID: "cooling", Status: domain.ItemStatusAssigned,
		Escalation: domain.Escalation{Level: 1, LastEscalatedAt: &recent}})
	f.add(t, domain.Item{ID: "cooled", Status: domain.ItemStatusAssigned,
		Escalation: domain.Escalation{Level: 2, LastEscalatedAt: &old}})
	f.add(t, domain.Item{ID: "maxed", Status: domain.ItemStatusAssigned,
		Escalation: domain.Escalation{Level: 3, LastEscalatedAt: &old}})
	f.add(t, domain.Item{ID: "closed", Status: domain.ItemStatusClosed})

	n, err := f.scanner.ScanEscalations(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued %d, want 2", n)
	}
	keys := f.keys()
	for key, level := range map[string]int{"escalate:fresh:0": 0, "escalate:cooled:2": 2} {
		job, ok := keys[key]
		if !ok {
			t.Errorf("missing %s in %v", key, keys)
			continue
		}
		if job.Payload.Reason != domain.ReasonPeriodicReview || job.Payload.Level == nil || *job.Payload.Level != level {
			t.Errorf("%s payload = %+v", key, job.Payload)
		}
	}
}

func TestAuditWorkloadReportsDrift(t *testing.T) {
	f := newScanFixture(t, 100)
	ctx := context.Background()
	team := &domain.Team{ID: "tech", Category: "technical", IsActive: true, Members: []domain.Member{
		{UserID: "agent-a", Role: domain.MemberRoleMember, Workload: 2, MaxWorkload: 5},
		{UserID: "agent-b", Role: domain.MemberRoleMember, Workload: 0, MaxWorkload: 5},
	}}
	if err := f.teams.Create(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	f.add(t, domain.Item{ID: "one", Status: domain.ItemStatusAssigned, AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-a")})
	f.add(t, domain.Item{ID: "two", Status: domain.ItemStatusInProgress, AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-a")})
	f.add(t, domain.Item{ID: "three", Status: domain.ItemStatusInProgress, AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-b")})
	f.add(t, domain.Item{ID: "four", Status: domain.ItemStatusPendingCustomer, AssignedTeamID: ptr("tech"), AssignedMemberID: ptr("agent-b")})

	drifts, err := f.scanner.AuditWorkload(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("drifts = %+v, want one", drifts)
	}
	want := Drift{TeamID: "tech", UserID: "agent-b", Stored: 0, Expected: 1}
	if drifts[0] != want {
		t.Errorf("drift = %+v, want %+v", drifts[0], want)
	}
	if stored, _ := f.teams.GetByID(ctx, "tech"); stored.Members[1].Workload != 0 {
		t.Error("audit modified the stored counter")
	}
}

func TestPurgeRetentionDisabled(t *testing.T) {
	f := newScanFixture(t, 100)
	f.scanner.retention = 0
	n, err := f.scanner.PurgeRetention(context.Background())
	if err != nil || n != 0 {
		t.Errorf("PurgeRetention = %d, %v", n, err)
	}
}
