package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/persistence"
	"github.com/spec-kit/workflow-engine/internal/repository"
	"github.com/spec-kit/workflow-engine/internal/repository/memory"
	"github.com/spec-kit/workflow-engine/internal/scheduler"
	"github.com/spec-kit/workflow-engine/internal/service"
	"github.com/spec-kit/workflow-engine/internal/worker"
)

// engine holds every component of one process. Nothing here is global; each command
// builds its own engine.
type engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	postgres *persistence.Postgres
	redis    *persistence.Redis
	closers  []io.Closer

	items repository.ItemRepository
	teams repository.TeamRepository
	slas  repository.SLARepository
	rules repository.EscalationRuleRepository
	store repository.JobRepository

	events     events.Dispatcher
	dispatcher *jobs.Dispatcher

	itemService         *service.ItemService
	assignmentService   *service.AssignmentService
	slaService          *service.SLAService
	escalationService   *service.EscalationService
	notificationService *service.NotificationService
	catalogService      *service.CatalogService
}

// buildEngine connects storage and transports and wires the services. Without
// POSTGRES_DSN the engine runs on in-memory stores, which only makes sense when the
// API, workers and scheduler share this process.
func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	if cfg.Postgres.DSN != "" {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		e.postgres = pg
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				e.close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool := pg.PoolHandle()
		e.items = repository.NewItemRepository(pool)
		e.teams = repository.NewTeamRepository(pool)
		e.slas = repository.NewSLARepository(pool)
		e.rules = repository.NewEscalationRuleRepository(pool)
		e.store = repository.NewJobRepository(pool)
		e.redis = persistence.NewRedis(cfg.Redis, logger)
	} else {
		logger.Warn("POSTGRES_DSN not provided; using in-memory stores")
		e.items = memory.NewItemStore()
		e.teams = memory.NewTeamStore()
		e.slas = memory.NewSLAStore()
		e.rules = memory.NewRuleStore()
		e.store = memory.NewJobStore()
	}

	e.events = events.NewInMemoryDispatcher()
	transport, err := e.notificationTransport()
	if err != nil {
		e.close()
		return nil, err
	}

	e.dispatcher = jobs.NewDispatcher(jobs.DispatcherDependencies{
		Store:   e.store,
		Logger:  logger.Named("jobs"),
		Metrics: e.metrics,
		Config:  cfg.Engine,
	})

	e.itemService = service.NewItemService(service.ItemDependencies{
		ItemRepo:         e.items,
		TeamRepo:         e.teams,
		SLARepo:          e.slas,
		Jobs:             e.dispatcher,
		Dispatcher:       e.events,
		Logger:           logger.Named("items"),
		AutoResolveAfter: cfg.Engine.AutoResolveAfter(),
	})
	e.assignmentService = service.NewAssignmentService(service.AssignmentDependencies{
		ItemRepo:      e.items,
		TeamRepo:      e.teams,
		SLARepo:       e.slas,
		Jobs:          e.dispatcher,
		Dispatcher:    e.events,
		Logger:        logger.Named("assignment"),
		DefaultTeamID: cfg.Engine.DefaultTeamID,
	})
	e.slaService = service.NewSLAService(service.SLADependencies{
		ItemRepo:   e.items,
		Jobs:       e.dispatcher,
		Dispatcher: e.events,
		Logger:     logger.Named("sla"),
	})
	e.escalationService = service.NewEscalationService(service.EscalationDependencies{
		ItemRepo:   e.items,
		TeamRepo:   e.teams,
		RuleRepo:   e.rules,
		Jobs:       e.dispatcher,
		Dispatcher: e.events,
		Logger:     logger.Named("escalation"),
		MaxLevel:   cfg.Engine.EscalationMaxLevel,
		Cooldown:   cfg.Engine.EscalationCooldown(),
	})
	e.notificationService = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: e.events,
		Transport:  transport,
		Logger:     logger.Named("notifications"),
	})
	e.catalogService = service.NewCatalogService(service.CatalogDependencies{
		TeamRepo: e.teams,
		SLARepo:  e.slas,
		RuleRepo: e.rules,
	})
	return e, nil
}

// notificationTransport returns nil for the in-process log transport.
func (e *engine) notificationTransport() (events.Publisher, error) {
	cfg := e.cfg.Notification
	switch cfg.Transport {
	case config.TransportLog, "":
		return nil, nil
	case config.TransportKafka:
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka transport: %w", err)
		}
		e.closers = append(e.closers, publisher)
		e.logger.Info("notifications published to kafka", zap.String("topic", cfg.KafkaTopic))
		return publisher, nil
	case config.TransportRedis:
		if e.redis == nil {
			e.redis = persistence.NewRedis(e.cfg.Redis, e.logger)
		}
		e.logger.Info("notifications published to redis", zap.String("channel", cfg.RedisChannel))
		return events.NewRedisPublisher(e.redis.Client, cfg.RedisChannel), nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_TRANSPORT %q", cfg.Transport)
	}
}

func (e *engine) pool(workers int) *jobs.Pool {
	if workers <= 0 {
		workers = e.cfg.Engine.Workers
	}
	return jobs.NewPool(jobs.PoolDependencies{
		Dispatcher: e.dispatcher,
		Registry: worker.NewRegistry(worker.Handlers{
			Assignment:    e.assignmentService,
			SLA:           e.slaService,
			Escalation:    e.escalationService,
			Items:         e.itemService,
			Notifications: e.notificationService,
		}),
		Logger:       e.logger.Named("pool"),
		Metrics:      e.metrics,
		Workers:      workers,
		PollInterval: e.cfg.Engine.PollInterval(),
	})
}

func (e *engine) scheduler() (*scheduler.Scheduler, error) {
	scanner := scheduler.NewScanner(scheduler.ScannerDependencies{
		ItemRepo:  e.items,
		TeamRepo:  e.teams,
		Queue:     e.dispatcher,
		Logger:    e.logger.Named("scanner"),
		Metrics:   e.metrics,
		Batch:     e.cfg.Scheduler.ScanBatch,
		MaxJitter: e.cfg.Scheduler.Jitter(),
		Retention: e.cfg.Scheduler.JobRetention(),
		MaxLevel:  e.escalationService.MaxLevel(),
		Cooldown:  e.cfg.Engine.EscalationCooldown(),
	})
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if e.redis != nil {
		locker = e.redis
	}
	return scheduler.New(e.cfg.Scheduler, scanner, locker, e.logger.Named("scheduler"))
}

func (e *engine) close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("close failed", zap.Error(err))
		}
	}
	e.redis.Close()
	e.postgres.Close()
}
