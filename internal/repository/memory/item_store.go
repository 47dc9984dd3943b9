// Package memory holds mutex-guarded implementations of the repository
// interfaces. They back the engine when no Postgres DSN is configured and
// are used throughout the test suites.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

// ItemStore keeps items in memory.
type ItemStore struct {
	mu    sync.Mutex
	items map[string]*domain.Item
}

// NewItemStore returns an empty store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]*domain.Item)}
}

var _ repository.ItemRepository = (*ItemStore)(nil)

func (s *ItemStore) Create(_ context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return repository.ErrDuplicate
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *ItemStore) GetByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *ItemStore) Update(_ context.Context, item *domain.Item, entries ...domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != item.Version {
		return repository.ErrVersionConflict
	}
	next := item.Clone()
	next.History = append(append([]domain.HistoryEntry(nil), stored.History...), entries...)
	next.Version = stored.Version + 1
	s.items[item.ID] = next

	item.Version = next.Version
	item.History = append([]domain.HistoryEntry(nil), next.History...)
	return nil
}

func (s *ItemStore) ListWithFilter(_ context.Context, filter repository.ItemFilter) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Item
	for _, item := range s.items {
		if filter.TenantID != "" && item.TenantID != filter.TenantID {
			continue
		}
		if filter.Category != nil && item.Category != *filter.Category {
			continue
		}
		if filter.AssignedMemberID != nil && (item.AssignedMemberID == nil || *item.AssignedMemberID != *filter.AssignedMemberID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsValue(filter.Statuses, item.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !containsValue(filter.Priorities, item.Priority) {
			continue
		}
		out = append(out, *item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return page(out, offset, limit), nil
}

func (s *ItemStore) ListForScan(_ context.Context, filter repository.ScanFilter) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Item
	for _, item := range s.items {
		if item.Status.Done() {
			continue
		}
		if filter.AfterID != "" && item.ID <= filter.AfterID {
			continue
		}
		if filter.BelowLevel != nil && item.Escalation.Level >= *filter.BelowLevel {
			continue
		}
		if filter.LastEscalatedUntil != nil && item.Escalation.LastEscalatedAt != nil &&
			item.Escalation.LastEscalatedAt.After(*filter.LastEscalatedUntil) {
			continue
		}
		if filter.WithSLAOnly && item.SLA.ResponseDeadline == nil && item.SLA.ResolutionDeadline == nil {
			continue
		}
		out = append(out, *item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return page(out, 0, limit), nil
}

func (s *ItemStore) CountActiveByMember(_ context.Context) (map[repository.MemberKey]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[repository.MemberKey]int)
	for _, item := range s.items {
		if !item.Status.CountsTowardWorkload() {
			continue
		}
		teamID, memberID, ok := item.Assignee()
		if !ok {
			continue
		}
		counts[repository.MemberKey{TeamID: teamID, UserID: memberID}]++
	}
	return counts, nil
}

func containsValue[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func page[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}
