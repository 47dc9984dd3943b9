package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
	"github.com/spec-kit/workflow-engine/internal/repository/memory"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

var start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.JobStore, *clock) {
	t.Helper()
	store := memory.NewJobStore()
	c := &clock{now: start}
	d := NewDispatcher(DispatcherDependencies{
		Store: store,
		Config: config.EngineConfig{
			MaxAttempts:         3,
			LeaseTimeoutSeconds: 60,
			BackoffBaseMs:       1000,
			BackoffCapSeconds:   30,
		},
		Now: c.Now,
	})
	return d, store, c
}

func mustEnqueue(t *testing.T, d *Dispatcher, req EnqueueRequest) string {
	t.Helper()
	id, err := d.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func TestEnqueueDedupesActiveJobs(t *testing.T) {
	d, store, c := newTestDispatcher(t)
	ctx := context.Background()
	req := EnqueueRequest{Type: domain.JobAutoAssign, Payload: domain.JobPayload{ItemID: "item-1"}, DedupeKey: "auto_assign:item-1"}

	first := mustEnqueue(t, d, req)
	if second := mustEnqueue(t, d, req); second != first {
		t.Fatalf("duplicate enqueue returned %s, want %s", second, first)
	}
	if n := len(store.All()); n != 1 {
		t.Fatalf("stored jobs = %d, want 1", n)
	}

	// A retrying job still holds its key.
	job, err := d.Claim(ctx, "w1")
	if err != nil || job == nil {
		t.Fatalf("claim = %v, %v", job, err)
	}
	if _, err := d.Fail(ctx, job, "w1", apperrors.NewTransient("db down", nil)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if again := mustEnqueue(t, d, req); again != first {
		t.Errorf("enqueue during retry returned %s, want %s", again, first)
	}

	// Once the job finishes the key is free again.
	c.Advance(time.Minute)
	job, _ = d.Claim(ctx, "w1")
	if err := d.Complete(ctx, job, "w1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if fresh := mustEnqueue(t, d, req); fresh == first {
		t.Error("enqueue after completion reused the finished job")
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Enqueue(context.Background(), EnqueueRequest{Type: "reindex"})
	if kind := apperrors.KindOf(err); kind != apperrors.KindValidation {
		t.Errorf("kind = %q, want validation", kind)
	}
}

func TestClaimOrdersByScheduleAndSkipsFutureJobs(t *testing.T) {
	d, _, c := newTestDispatcher(t)
	ctx := context.Background()
	later := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify, ScheduledFor: start.Add(time.Minute)})
	now := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})

	job, err := d.Claim(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != now {
		t.Fatalf("claimed %v, want %s", job, now)
	}
	if job.Status != domain.JobStatusClaimed || job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Equal(start.Add(time.Minute)) {
		t.Errorf("claim state = %s lease %v", job.Status, job.LeaseExpiresAt)
	}
	if next, _ := d.Claim(ctx, "w2"); next != nil {
		t.Fatalf("claimed future job %s", next.ID)
	}

	c.Advance(time.Minute)
	if next, _ := d.Claim(ctx, "w2"); next == nil || next.ID != later {
		t.Errorf("claimed %v, want %s", next, later)
	}
}

func TestFailRetriesWithBackoffUntilMaxAttempts(t *testing.T) {
	d, store, c := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobEscalate})

	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	for i, delay := range wantDelays {
		job, _ := d.Claim(ctx, "w1")
		if job == nil {
			t.Fatalf("attempt %d: nothing claimed", i+1)
		}
		terminal, err := d.Fail(ctx, job, "w1", apperrors.NewTransient("timeout", nil))
		if err != nil || terminal {
			t.Fatalf("attempt %d: terminal=%v err=%v", i+1, terminal, err)
		}
		stored, _ := store.GetByID(ctx, id)
		if stored.Status != domain.JobStatusFailedRetryable || stored.Attempt != i+1 {
			t.Fatalf("attempt %d: stored %s attempt %d", i+1, stored.Status, stored.Attempt)
		}
		if want := c.now.Add(delay); !stored.ScheduledFor.Equal(want) {
			t.Errorf("attempt %d: retry at %s, want %s", i+1, stored.ScheduledFor, want)
		}
		c.Advance(delay)
	}

	job, _ := d.Claim(ctx, "w1")
	terminal, err := d.Fail(ctx, job, "w1", apperrors.NewTransient("timeout", nil))
	if err != nil || !terminal {
		t.Fatalf("final attempt: terminal=%v err=%v", terminal, err)
	}
	stored, _ := store.GetByID(ctx, id)
	if stored.Status != domain.JobStatusFailedTerminal || stored.Attempt != 3 {
		t.Errorf("final state %s attempt %d, want failed_terminal attempt 3", stored.Status, stored.Attempt)
	}
	if stored.LastError == nil || *stored.LastError != "timeout" {
		t.Errorf("last error = %v, want timeout", stored.LastError)
	}
}

func TestFailNonRetryableIsTerminal(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})
	job, _ := d.Claim(ctx, "w1")

	terminal, err := d.Fail(ctx, job, "w1", apperrors.NewValidationError("bad channel", nil))
	if err != nil || !terminal {
		t.Fatalf("terminal=%v err=%v, want terminal", terminal, err)
	}
	if stored, _ := store.GetByID(ctx, id); stored.Attempt != 1 || stored.Status != domain.JobStatusFailedTerminal {
		t.Errorf("stored %s attempt %d", stored.Status, stored.Attempt)
	}
	dead, err := d.ListDeadLetters(ctx, 10, 0)
	if err != nil || len(dead) != 1 || dead[0].ID != id {
		t.Errorf("dead letters = %v, %v", dead, err)
	}
}

func TestFailAfterLeaseLoss(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})
	job, _ := d.Claim(ctx, "w1")

	_, err := d.Fail(ctx, job, "w2", errors.New("boom"))
	if !errors.Is(err, repository.ErrLeaseLost) {
		t.Errorf("fail by another worker = %v, want ErrLeaseLost", err)
	}
}

func TestRequeue(t *testing.T) {
	d, store, c := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify, DedupeKey: "notify:item-1:assigned:a"})
	job, _ := d.Claim(ctx, "w1")
	if _, err := d.Fail(ctx, job, "w1", apperrors.NewValidationError("bad", nil)); err != nil {
		t.Fatalf("fail: %v", err)
	}

	c.Advance(time.Hour)
	if err := d.Requeue(ctx, id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	stored, _ := store.GetByID(ctx, id)
	if stored.Status != domain.JobStatusPending || stored.Attempt != 0 || !stored.ScheduledFor.Equal(c.now) {
		t.Errorf("requeued job = %s attempt %d at %s", stored.Status, stored.Attempt, stored.ScheduledFor)
	}

	err := d.Requeue(ctx, id)
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.HTTPStatus != 409 {
		t.Errorf("requeue of pending job = %v, want 409", err)
	}

	err = d.Requeue(ctx, "missing")
	if kind := apperrors.KindOf(err); kind != apperrors.KindNotFound {
		t.Errorf("requeue of missing job kind = %q, want not found", kind)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	d, store, c := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobCheckSLA})
	job, _ := d.Claim(ctx, "w1")

	if n, err := d.ReclaimExpired(ctx, 10); err != nil || n != 0 {
		t.Fatalf("reclaim before expiry = %d, %v", n, err)
	}
	c.Advance(61 * time.Second)
	if n, err := d.ReclaimExpired(ctx, 10); err != nil || n != 1 {
		t.Fatalf("reclaim after expiry = %d, %v", n, err)
	}

	stored, _ := store.GetByID(ctx, id)
	if stored.Status != domain.JobStatusFailedRetryable || stored.Attempt != 1 || stored.ClaimedBy != nil {
		t.Errorf("reclaimed job = %s attempt %d claimed by %v", stored.Status, stored.Attempt, stored.ClaimedBy)
	}
	if err := d.Complete(ctx, job, "w1"); !errors.Is(err, repository.ErrLeaseLost) {
		t.Errorf("late complete = %v, want ErrLeaseLost", err)
	}
}

func TestPurgeSucceeded(t *testing.T) {
	d, store, c := newTestDispatcher(t)
	ctx := context.Background()
	mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})
	pending := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify, ScheduledFor: start.Add(48 * time.Hour)})
	job, _ := d.Claim(ctx, "w1")
	if err := d.Complete(ctx, job, "w1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	c.Advance(25 * time.Hour)
	n, err := d.PurgeSucceeded(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, %v; want 1", n, err)
	}
	all := store.All()
	if len(all) != 1 || all[0].ID != pending {
		t.Errorf("remaining jobs = %+v, want only %s", all, pending)
	}
}
