package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
)

// TeamStore keeps teams in memory; workload changes are applied per member under the lock.
type TeamStore struct {
	mu    sync.Mutex
	teams map[string]*domain.Team
}

// NewTeamStore returns an empty store.
func NewTeamStore() *TeamStore {
	return &TeamStore{teams: make(map[string]*domain.Team)}
}

var _ repository.TeamRepository = (*TeamStore)(nil)

func (s *TeamStore) Create(_ context.Context, team *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; ok {
		return repository.ErrDuplicate
	}
	s.teams[team.ID] = cloneTeam(team)
	return nil
}

func (s *TeamStore) GetByID(_ context.Context, id string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTeam(team), nil
}

func (s *TeamStore) List(_ context.Context) ([]domain.Team, error) {
	return s.filter(func(*domain.Team) bool { return true }), nil
}

func (s *TeamStore) ListActiveByCategory(_ context.Context, category string) ([]domain.Team, error) {
	return s.filter(func(t *domain.Team) bool { return t.IsActive && t.Category == category }), nil
}

func (s *TeamStore) FindDefault(_ context.Context) (*domain.Team, error) {
	teams := s.filter(func(t *domain.Team) bool { return t.IsActive && t.IsDefault })
	if len(teams) == 0 {
		return nil, repository.ErrNotFound
	}
	return &teams[0], nil
}

func (s *TeamStore) TryIncrementWorkload(_ context.Context, teamID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.member(teamID, userID)
	if err != nil {
		return false, err
	}
	if m.Workload >= m.MaxWorkload {
		return false, nil
	}
	m.Workload++
	return true, nil
}

func (s *TeamStore) AdjustWorkload(_ context.Context, teamID, userID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.member(teamID, userID)
	if err != nil {
		return err
	}
	m.Workload += delta
	if m.Workload < 0 {
		m.Workload = 0
	}
	return nil
}

func (s *TeamStore) member(teamID, userID string) (*domain.Member, error) {
	team, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for i := range team.Members {
		if team.Members[i].UserID == userID {
			return &team.Members[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *TeamStore) filter(keep func(*domain.Team) bool) []domain.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Team
	for _, t := range s.teams {
		if keep(t) {
			out = append(out, *cloneTeam(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneTeam(t *domain.Team) *domain.Team {
	cp := *t
	cp.Members = make([]domain.Member, len(t.Members))
	for i, m := range t.Members {
		m.Skills = append([]string(nil), m.Skills...)
		cp.Members[i] = m
	}
	sort.Slice(cp.Members, func(i, j int) bool { return cp.Members[i].UserID < cp.Members[j].UserID })
	return &cp
}
