// Package scheduler runs the engine's periodic ticks on robfig/cron: SLA and escalation
// re-scans, lease reclamation, job retention and the workload audit.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/config"
)

const (
	lockPrefix  = "workflow:scheduler:"
	lockTTL     = 2 * time.Minute
	tickTimeout = 90 * time.Second
)

// Scheduler owns the cron instance.
type Scheduler struct {
	cron    *cron.Cron
	scanner *Scanner
	locker  Locker
	logger  *zap.Logger
}

// New registers every tick from cfg. A nil locker runs ticks unguarded.
func New(cfg config.SchedulerConfig, scanner *Scanner, locker Locker, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		scanner: scanner,
		locker:  locker,
		logger:  logger,
	}

	ticks := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"sla_scan", cfg.SLAScanSpec, func(ctx context.Context) error { _, err := scanner.ScanSLA(ctx); return err }},
		{"escalation_scan", cfg.EscalationScanSpec, func(ctx context.Context) error { _, err := scanner.ScanEscalations(ctx); return err }},
		{"reclaim", cfg.ReclaimSpec, func(ctx context.Context) error { _, err := scanner.ReclaimExpired(ctx); return err }},
		{"retention", cfg.RetentionSpec, func(ctx context.Context) error { _, err := scanner.PurgeRetention(ctx); return err }},
		{"workload_audit", cfg.AuditSpec, func(ctx context.Context) error { _, err := scanner.AuditWorkload(ctx); return err }},
	}
	for _, t := range ticks {
		if t.spec == "" {
			logger.Info("scheduler tick disabled", zap.String("tick", t.name))
			continue
		}
		name, run := t.name, t.run
		if _, err := s.cron.AddFunc(t.spec, func() { s.RunTick(context.Background(), name, run) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", t.name, t.spec, err)
		}
	}
	return s, nil
}

// RunTick runs one tick under the distributed lock.
func (s *Scheduler) RunTick(ctx context.Context, name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	log := s.logger.With(zap.String("tick", name))
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, lockPrefix+name, lockTTL)
		if err != nil {
			log.Warn("scheduler lock unavailable", zap.Error(err))
			return
		}
		if !ok {
			log.Debug("tick held by another instance")
			return
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.Warn("scheduler lock release failed", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := run(ctx); err != nil {
		log.Error("scheduler tick failed", zap.Error(err))
		return
	}
	log.Debug("scheduler tick finished", zap.Duration("elapsed", time.Since(start)))
}

// Run starts the cron loop and blocks until ctx is cancelled and running ticks finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
