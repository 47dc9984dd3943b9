package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/spec-kit/workflow-engine/internal/domain"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

type notifyFunc func(ctx context.Context, job *domain.Job) error

func (f notifyFunc) Notify(ctx context.Context, job *domain.Job) error { return f(ctx, job) }

func TestPoolRecoversHandlerPanics(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})

	pool := NewPool(PoolDependencies{
		Dispatcher: d,
		Registry: &Registry{Notify: notifyFunc(func(context.Context, *domain.Job) error {
			panic("transport exploded")
		})},
		Name: "test",
	})
	processed, err := pool.RunOnce(ctx, "test-0")
	if err != nil || !processed {
		t.Fatalf("RunOnce = %v, %v", processed, err)
	}

	stored, _ := store.GetByID(ctx, id)
	if stored.Status != domain.JobStatusFailedRetryable {
		t.Errorf("status = %s, want failed_retryable", stored.Status)
	}
	if stored.LastError == nil || !strings.Contains(*stored.LastError, "transport exploded") {
		t.Errorf("last error = %v", stored.LastError)
	}
}

func TestPoolFailsJobsWithoutHandler(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	id := mustEnqueue(t, d, EnqueueRequest{Type: domain.JobAutoResolve})

	pool := NewPool(PoolDependencies{Dispatcher: d, Registry: &Registry{}})
	if _, err := pool.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if stored, _ := store.GetByID(ctx, id); stored.Status != domain.JobStatusFailedTerminal {
		t.Errorf("status = %s, want failed_terminal", stored.Status)
	}
}

func TestPoolRunsEachJobOnce(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	const total = 50
	for i := 0; i < total; i++ {
		mustEnqueue(t, d, EnqueueRequest{Type: domain.JobNotify})
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	pool := NewPool(PoolDependencies{
		Dispatcher: d,
		Registry: &Registry{Notify: notifyFunc(func(_ context.Context, job *domain.Job) error {
			mu.Lock()
			seen[job.ID]++
			mu.Unlock()
			return nil
		})},
	})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		workerID := "w" + string(rune('a'+w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				processed, err := pool.RunOnce(ctx, workerID)
				if err != nil {
					t.Errorf("worker %s: %v", workerID, err)
					return
				}
				if !processed {
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("handled %d distinct jobs, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s handled %d times", id, n)
		}
	}
	counts, _ := store.CountByStatus(ctx)
	if counts[domain.JobStatusSucceeded] != total {
		t.Errorf("succeeded = %d, want %d", counts[domain.JobStatusSucceeded], total)
	}
}

func TestRegistryDispatchesByType(t *testing.T) {
	var got []domain.JobType
	record := notifyFunc(func(_ context.Context, job *domain.Job) error {
		got = append(got, job.Type)
		return nil
	})
	r := &Registry{Notify: record}
	if err := r.Dispatch(context.Background(), &domain.Job{Type: domain.JobNotify}); err != nil {
		t.Fatalf("dispatch notify: %v", err)
	}
	err := r.Dispatch(context.Background(), &domain.Job{Type: domain.JobEscalate})
	if kind := apperrors.KindOf(err); kind != apperrors.KindValidation {
		t.Errorf("unregistered type kind = %q, want validation", kind)
	}
	if len(got) != 1 || got[0] != domain.JobNotify {
		t.Errorf("handled %v", got)
	}
}
