package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/repository/memory"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// engineFixture wires every service on in-memory stores with a controllable clock.
type engineFixture struct {
	t   *testing.T
	ctx context.Context
	now time.Time

	items *memory.ItemStore
	teams *memory.TeamStore
	slas  *memory.SLAStore
	rules *memory.RuleStore
	store *memory.JobStore

	events     events.Dispatcher
	published  []events.Event
	dispatcher *jobs.Dispatcher
	pool       *jobs.Pool

	itemService   *ItemService
	assignment    *AssignmentService
	sla           *SLAService
	escalation    *EscalationService
	notifications *NotificationService
	catalog       *CatalogService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		t:     t,
		ctx:   context.Background(),
		now:   t0,
		items: memory.NewItemStore(),
		teams: memory.NewTeamStore(),
		slas:  memory.NewSLAStore(),
		rules: memory.NewRuleStore(),
		store: memory.NewJobStore(),
	}
	clock := func() time.Time { return f.now }

	f.events = events.NewInMemoryDispatcher()
	f.dispatcher = jobs.NewDispatcher(jobs.DispatcherDependencies{
		Store: f.store,
		Config: config.EngineConfig{
			MaxAttempts:         5,
			LeaseTimeoutSeconds: 300,
			BackoffBaseMs:       1000,
			BackoffCapSeconds:   300,
		},
		Now: clock,
	})
	f.itemService = NewItemService(ItemDependencies{
		ItemRepo:         f.items,
		TeamRepo:         f.teams,
		SLARepo:          f.slas,
		Jobs:             f.dispatcher,
		Dispatcher:       f.events,
		AutoResolveAfter: 72 * time.Hour,
		Now:              clock,
	})
	f.assignment = NewAssignmentService(AssignmentDependencies{
		ItemRepo:   f.items,
		TeamRepo:   f.teams,
		SLARepo:    f.slas,
		Jobs:       f.dispatcher,
		Dispatcher: f.events,
		Now:        clock,
	})
	f.sla = NewSLAService(SLADependencies{
		ItemRepo:   f.items,
		Jobs:       f.dispatcher,
		Dispatcher: f.events,
		Now:        clock,
	})
	f.escalation = NewEscalationService(EscalationDependencies{
		ItemRepo:   f.items,
		TeamRepo:   f.teams,
		RuleRepo:   f.rules,
		Jobs:       f.dispatcher,
		Dispatcher: f.events,
		MaxLevel:   3,
		Cooldown:   time.Hour,
		Now:        clock,
	})
	f.notifications = NewNotificationService(NotificationDependencies{
		Dispatcher: f.events,
		Now:        clock,
	})
	f.notifications.RegisterHandlers()
	f.catalog = NewCatalogService(CatalogDependencies{
		TeamRepo: f.teams,
		SLARepo:  f.slas,
		RuleRepo: f.rules,
		Now:      clock,
	})

	record := func(_ context.Context, e events.Event) error {
		f.published = append(f.published, e)
		return nil
	}
	for _, et := range []events.EventType{
		events.EventItemAssigned,
		events.EventItemStatusChanged,
		events.EventItemEscalated,
		events.EventSLABreached,
		events.EventNotificationRequested,
	} {
		f.events.Subscribe(et, record)
	}

	f.pool = jobs.NewPool(jobs.PoolDependencies{
		Dispatcher: f.dispatcher,
		Registry: &jobs.Registry{
			AutoAssign:  f.assignment,
			CheckSLA:    f.sla,
			Escalate:    f.escalation,
			AutoResolve: f.itemService,
			Notify:      f.notifications,
		},
		Workers: 1,
		Name:    "test",
	})
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *engineFixture) drain() int {
	f.t.Helper()
	n, err := f.pool.Drain(f.ctx)
	if err != nil {
		f.t.Fatalf("drain: %v", err)
	}
	return n
}

func (f *engineFixture) addTeam(id, category string, members ...domain.Member) {
	f.t.Helper()
	team := &domain.Team{
		ID:        id,
		Name:      id,
		Category:  category,
		IsActive:  true,
		Members:   members,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	if err := f.teams.Create(f.ctx, team); err != nil {
		f.t.Fatalf("create team %s: %v", id, err)
	}
}

func (f *engineFixture) addSLA(category string, priority domain.Priority, response, resolution float64) {
	f.t.Helper()
	if _, err := f.catalog.UpsertSLADefinition(f.ctx, domain.SLADefinition{
		Category:            category,
		Priority:            priority,
		ResponseTimeHours:   response,
		ResolutionTimeHours: resolution,
	}); err != nil {
		f.t.Fatalf("upsert sla: %v", err)
	}
}

func (f *engineFixture) addRule(rule domain.EscalationRule) {
	f.t.Helper()
	if _, err := f.catalog.CreateEscalationRule(f.ctx, rule); err != nil {
		f.t.Fatalf("create rule: %v", err)
	}
}

func (f *engineFixture) createItem(category string, priority domain.Priority) *domain.Item {
	f.t.Helper()
	item, err := f.itemService.CreateItem(f.ctx, CreateItemInput{
		TenantID: "tenant-1",
		Title:    "cannot log in",
		Category: category,
		Priority: priority,
		ActorID:  "customer-1",
	})
	if err != nil {
		f.t.Fatalf("create item: %v", err)
	}
	return item
}

func (f *engineFixture) item(id string) *domain.Item {
	f.t.Helper()
	item, err := f.items.GetByID(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get item %s: %v", id, err)
	}
	return item
}

func (f *engineFixture) member(teamID, userID string) domain.Member {
	f.t.Helper()
	team, err := f.teams.GetByID(f.ctx, teamID)
	if err != nil {
		f.t.Fatalf("get team %s: %v", teamID, err)
	}
	m, ok := team.Member(userID)
	if !ok {
		f.t.Fatalf("member %s not in team %s", userID, teamID)
	}
	return m
}

// jobsWithKeyPrefix returns stored jobs whose dedupe key starts with prefix.
func (f *engineFixture) jobsWithKeyPrefix(prefix string) []domain.Job {
	var out []domain.Job
	for _, job := range f.store.All() {
		if job.DedupeKey != nil && strings.HasPrefix(*job.DedupeKey, prefix) {
			out = append(out, job)
		}
	}
	return out
}

func (f *engineFixture) jobsOfType(jobType domain.JobType) []domain.Job {
	var out []domain.Job
	for _, job := range f.store.All() {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

func member(userID string, role domain.MemberRole, workload, max int) domain.Member {
	return domain.Member{UserID: userID, Role: role, Workload: workload, MaxWorkload: max}
}

func historyTypes(item *domain.Item) []domain.ChangeType {
	out := make([]domain.ChangeType, 0, len(item.History))
	for _, h := range item.History {
		out = append(out, h.ChangeType)
	}
	return out
}

func countChange(item *domain.Item, change domain.ChangeType) int {
	n := 0
	for _, h := range item.History {
		if h.ChangeType == change {
			n++
		}
	}
	return n
}
