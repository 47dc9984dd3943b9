package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

type slaKey struct {
	category string
	priority domain.Priority
}

// SLAStore keeps SLA definitions keyed by category and priority.
type SLAStore struct {
	mu   sync.Mutex
	defs map[slaKey]domain.SLADefinition
}

// NewSLAStore returns an empty store.
func NewSLAStore() *SLAStore {
	return &SLAStore{defs: make(map[slaKey]domain.SLADefinition)}
}

var _ repository.SLARepository = (*SLAStore)(nil)

func (s *SLAStore) Upsert(_ context.Context, def *domain.SLADefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slaKey{def.Category, def.Priority}
	if existing, ok := s.defs[key]; ok {
		def.ID = existing.ID
		def.CreatedAt = existing.CreatedAt
	}
	s.defs[key] = *def
	return nil
}

func (s *SLAStore) Get(_ context.Context, category string, priority domain.Priority) (*domain.SLADefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[slaKey{category, priority}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &def, nil
}

func (s *SLAStore) List(_ context.Context) ([]domain.SLADefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SLADefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category == out[j].Category {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// RuleStore keeps escalation rules.
type RuleStore struct {
	mu    sync.Mutex
	rules []domain.EscalationRule
}

// NewRuleStore returns an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{}
}

var _ repository.EscalationRuleRepository = (*RuleStore)(nil)

func (s *RuleStore) Create(_ context.Context, rule *domain.EscalationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.ID == rule.ID {
			return repository.ErrDuplicate
		}
	}
	s.rules = append(s.rules, *rule)
	return nil
}

func (s *RuleStore) ListActive(ctx context.Context) ([]domain.EscalationRule, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, r := range all {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RuleStore) List(_ context.Context) ([]domain.EscalationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.EscalationRule(nil), s.rules...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}
