package service

import (
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

func TestAutoAssignWithoutCapacityRetries(t *testing.T) {
	f := newEngineFixture(t)
	f.addTeam("billing", "billing",
		member("agent-a", domain.MemberRoleMember, 3, 3),
		member("agent-b", domain.MemberRoleMember, 2, 2),
	)
	item := f.createItem("billing", domain.PriorityMedium)

	if n := f.drain(); n != 1 {
		t.Fatalf("drained %d jobs, want 1", n)
	}

	got := f.item(item.ID)
	if got.Status != domain.ItemStatusOpen || got.AssignedMemberID != nil {
		t.Fatalf("item = %s assigned to %v, want open and unassigned", got.Status, got.AssignedMemberID)
	}
	assign := f.jobsOfType(domain.JobAutoAssign)
	if len(assign) != 1 {
		t.Fatalf("auto_assign jobs = %d, want 1", len(assign))
	}
	job := assign[0]
	if job.Status != domain.JobStatusFailedRetryable {
		t.Errorf("job status = %s, want %s", job.Status, domain.JobStatusFailedRetryable)
	}
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", job.Attempt)
	}
	if job.LastError == nil || !strings.Contains(*job.LastError, "no available agent") {
		t.Errorf("last error = %v, want no available agent", job.LastError)
	}
	if !job.ScheduledFor.After(f.now) {
		t.Errorf("retry scheduled at %s, want after %s", job.ScheduledFor, f.now)
	}
	if m := f.member("billing", "agent-a"); m.Workload != 3 {
		t.Errorf("agent-a workload = %d, want 3", m.Workload)
	}
}

func TestAutoAssignReturnsNoAvailableAgent(t *testing.T) {
	f := newEngineFixture(t)
	f.addTeam("billing", "billing", member("agent-a", domain.MemberRoleMember, 1, 1))
	item := f.createItem("billing", domain.PriorityLow)

	job := &domain.Job{ID: "job-1", Type: domain.JobAutoAssign, Payload: domain.JobPayload{ItemID: item.ID}}
	err := f.assignment.AutoAssign(f.ctx, job)
	if !apperrors.IsCode(err, apperrors.CodeNoAvailableAgent) {
		t.Fatalf("AutoAssign error = %v, want %s", err, apperrors.CodeNoAvailableAgent)
	}
	if kind := apperrors.KindOf(err); kind != apperrors.KindBusinessRule {
		t.Errorf("kind = %s, want %s", kind, apperrors.KindBusinessRule)
	}
}

func TestAutoAssignComputesSLAFromAssignmentTime(t *testing.T) {
	f := newEngineFixture(t)
	f.addTeam("tech", "technical",
		member("agent-a", domain.MemberRoleMember, 0, 5),
		member("lead-1", domain.MemberRoleLead, 2, 5),
	)
	f.addSLA("technical", domain.PriorityCritical, 1, 4)
	item := f.createItem("technical", domain.PriorityCritical)

	if n := f.drain(); n != 2 {
		t.Fatalf("drained %d jobs, want 2 (auto_assign and notify)", n)
	}

	got := f.item(item.ID)
	if got.Status != domain.ItemStatusAssigned {
		t.Fatalf("status = %s, want assigned", got.Status)
	}
	if valueOf(got.AssignedMemberID) != "lead-1" || valueOf(got.AssignedTeamID) != "tech" {
		t.Errorf("assignee = %s/%s, want tech/lead-1", valueOf(got.AssignedTeamID), valueOf(got.AssignedMemberID))
	}
	if want := t0.Add(time.Hour); got.SLA.ResponseDeadline == nil || !got.SLA.ResponseDeadline.Equal(want) {
		t.Errorf("response deadline = %v, want %s", got.SLA.ResponseDeadline, want)
	}
	if want := t0.Add(4 * time.Hour); got.SLA.ResolutionDeadline == nil || !got.SLA.ResolutionDeadline.Equal(want) {
		t.Errorf("resolution deadline = %v, want %s", got.SLA.ResolutionDeadline, want)
	}
	for _, change := range []domain.ChangeType{domain.ChangeTypeAssignment, domain.ChangeTypeStatus, domain.ChangeTypeSLAComputed} {
		if countChange(got, change) != 1 {
			t.Errorf("history %v missing exactly one %s", historyTypes(got), change)
		}
	}
	if m := f.member("tech", "lead-1"); m.Workload != 3 {
		t.Errorf("lead workload = %d, want 3", m.Workload)
	}

	checks := f.jobsWithKeyPrefix("check_sla:" + item.ID)
	if len(checks) != 2 {
		t.Fatalf("check_sla jobs = %d, want 2", len(checks))
	}
	for _, job := range checks {
		if job.Status != domain.JobStatusPending {
			t.Errorf("check_sla %s status = %s, want pending", *job.DedupeKey, job.Status)
		}
	}
	notify := f.jobsWithKeyPrefix("notify:" + item.ID + ":assigned:lead-1")
	if len(notify) != 1 || notify[0].Status != domain.JobStatusSucceeded {
		t.Errorf("assignment notification = %+v, want one succeeded job", notify)
	}
}

func TestAutoAssignIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	f.addTeam("tech", "technical", member("agent-a", domain.MemberRoleMember, 0, 5))
	item := f.createItem("technical", domain.PriorityLow)
	f.drain()

	job := &domain.Job{ID: "replay", Type: domain.JobAutoAssign, Payload: domain.JobPayload{ItemID: item.ID}}
	if err := f.assignment.AutoAssign(f.ctx, job); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if m := f.member("tech", "agent-a"); m.Workload != 1 {
		t.Errorf("workload after replay = %d, want 1", m.Workload)
	}
	if got := f.item(item.ID); countChange(got, domain.ChangeTypeAssignment) != 1 {
		t.Errorf("assignment entries = %d, want 1", countChange(got, domain.ChangeTypeAssignment))
	}
}

func TestAutoAssignRespectsCapacityAcrossItems(t *testing.T) {
	f := newEngineFixture(t)
	f.addTeam("tech", "technical", member("agent-a", domain.MemberRoleMember, 0, 1))
	first := f.createItem("technical", domain.PriorityLow)
	second := f.createItem("technical", domain.PriorityLow)
	f.drain()

	assigned := 0
	for _, id := range []string{first.ID, second.ID} {
		if f.item(id).Status == domain.ItemStatusAssigned {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("assigned items = %d, want 1", assigned)
	}
	if m := f.member("tech", "agent-a"); m.Workload != 1 {
		t.Errorf("workload = %d, want 1", m.Workload)
	}
}

func TestAutoAssignFallsBackToDefaultTeam(t *testing.T) {
	f := newEngineFixture(t)
	team := &domain.Team{
		ID:        "general",
		Name:      "General",
		Category:  "general",
		IsActive:  true,
		IsDefault: true,
		Members:   []domain.Member{member("agent-z", domain.MemberRoleMember, 0, 3)},
	}
	if err := f.teams.Create(f.ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	item := f.createItem("shipping", domain.PriorityMedium)
	f.drain()

	got := f.item(item.ID)
	if valueOf(got.AssignedTeamID) != "general" || valueOf(got.AssignedMemberID) != "agent-z" {
		t.Errorf("assignee = %s/%s, want general/agent-z", valueOf(got.AssignedTeamID), valueOf(got.AssignedMemberID))
	}
}

func TestRankMembers(t *testing.T) {
	members := []domain.Member{
		member("carol", domain.MemberRoleMember, 1, 5),
		member("bob", domain.MemberRoleMember, 1, 5),
		member("lead", domain.MemberRoleLead, 3, 5),
		member("full", domain.MemberRoleMember, 0, 0),
		member("alice", domain.MemberRoleMember, 2, 5),
	}
	tests := []struct {
		name     string
		priority domain.Priority
		want     []string
	}{
		{"medium orders by workload then id", domain.PriorityMedium, []string{"bob", "carol", "alice", "lead"}},
		{"high prefers leads", domain.PriorityHigh, []string{"lead", "bob", "carol", "alice"}},
		{"critical prefers leads", domain.PriorityCritical, []string{"lead", "bob", "carol", "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := rankMembers(members, tt.priority)
			got := make([]string, 0, len(ranked))
			for _, m := range ranked {
				got = append(got, m.UserID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("rankMembers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectTeam(t *testing.T) {
	busy := domain.Team{ID: "a-busy", Members: []domain.Member{member("x", domain.MemberRoleMember, 4, 5)}}
	idle := domain.Team{ID: "b-idle", Members: []domain.Member{member("y", domain.MemberRoleMember, 1, 5)}}
	teams := []domain.Team{idle, busy}

	if got := selectTeam(teams, domain.PriorityCritical); got.ID != "b-idle" {
		t.Errorf("critical selected %s, want b-idle", got.ID)
	}
	if got := selectTeam(teams, domain.PriorityHigh); got.ID != "a-busy" {
		t.Errorf("high selected %s, want a-busy", got.ID)
	}
	if got := selectTeam(nil, domain.PriorityLow); got != nil {
		t.Errorf("empty candidates selected %s, want nil", got.ID)
	}
}
