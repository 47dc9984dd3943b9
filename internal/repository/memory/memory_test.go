package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

func TestItemStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewItemStore()
	created := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, &domain.Item{ID: "item-1", Status: domain.ItemStatusOpen, Version: 1, CreatedAt: created}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := s.GetByID(ctx, "item-1")
	second, _ := s.GetByID(ctx, "item-1")

	first.Status = domain.ItemStatusAssigned
	if err := s.Update(ctx, first, domain.HistoryEntry{ID: "h1", ChangeType: domain.ChangeTypeStatus}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 || len(first.History) != 1 {
		t.Errorf("after update version=%d history=%d", first.Version, len(first.History))
	}

	second.Status = domain.ItemStatusClosed
	if err := s.Update(ctx, second); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("stale update = %v, want ErrVersionConflict", err)
	}
	stored, _ := s.GetByID(ctx, "item-1")
	if stored.Status != domain.ItemStatusAssigned {
		t.Errorf("status = %s, want assigned", stored.Status)
	}

	// Returned items are copies.
	stored.Title = "changed"
	if again, _ := s.GetByID(ctx, "item-1"); again.Title == "changed" {
		t.Error("store shares memory with callers")
	}
}

func TestTeamStoreWorkloadNeverExceedsMax(t *testing.T) {
	ctx := context.Background()
	s := NewTeamStore()
	team := &domain.Team{ID: "tech", IsActive: true, Members: []domain.Member{{UserID: "a", MaxWorkload: 10}}}
	if err := s.Create(ctx, team); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryIncrementWorkload(ctx, "tech", "a")
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted = %d, want 10", granted)
	}
	if err := s.AdjustWorkload(ctx, "tech", "a", -20); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	got, _ := s.GetByID(ctx, "tech")
	if got.Members[0].Workload != 0 {
		t.Errorf("workload = %d, want 0", got.Members[0].Workload)
	}
	if err := s.AdjustWorkload(ctx, "tech", "ghost", 1); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown member = %v, want ErrNotFound", err)
	}
}

func TestJobStoreDedupeReleasesOnTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()
	key := "escalate:item-1:0"
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	job := &domain.Job{ID: "j1", Type: domain.JobEscalate, DedupeKey: &key, Status: domain.JobStatusPending, ScheduledFor: now, MaxAttempts: 1}
	if _, created, err := s.Insert(ctx, job); err != nil || !created {
		t.Fatalf("insert = %v, %v", created, err)
	}
	dup := *job
	dup.ID = "j2"
	if id, created, _ := s.Insert(ctx, &dup); created || id != "j1" {
		t.Fatalf("duplicate insert = %s, %v", id, created)
	}

	claimed, _ := s.Claim(ctx, "w", now, time.Minute)
	if err := s.Fail(ctx, repository.FailUpdate{JobID: claimed.ID, WorkerID: "w", Attempt: 1, Status: domain.JobStatusFailedTerminal, Now: now}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if id, created, _ := s.Insert(ctx, &dup); !created || id != "j2" {
		t.Errorf("insert after terminal failure = %s, %v", id, created)
	}
	if err := s.Requeue(ctx, "j1", now); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("requeue while key is held = %v, want ErrDuplicate", err)
	}
}
