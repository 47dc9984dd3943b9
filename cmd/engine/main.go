package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/workflow-engine/internal/api/http"
	"github.com/spec-kit/workflow-engine/internal/api/http/handlers"
	"github.com/spec-kit/workflow-engine/internal/auth"
	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/persistence"
	"github.com/spec-kit/workflow-engine/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "engine",
		Short:         "Workflow engine for assignment, SLA tracking and escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), workerCmd(), schedulerCmd(), migrateCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("engine: %v", err)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			withWorkers, _ := cmd.Flags().GetBool("with-workers")
			withScheduler, _ := cmd.Flags().GetBool("with-scheduler")
			return run("serve", func(ctx context.Context, e *engine) error {
				inMemory := e.postgres == nil
				if inMemory {
					withWorkers, withScheduler = true, true
				}

				var wg sync.WaitGroup
				if withWorkers {
					pool := e.pool(0)
					wg.Add(1)
					go func() {
						defer wg.Done()
						worker.Start(ctx, pool, e.notificationService)
					}()
				} else {
					e.notificationService.RegisterHandlers()
				}
				if withScheduler {
					sched, err := e.scheduler()
					if err != nil {
						return err
					}
					wg.Add(1)
					go func() {
						defer wg.Done()
						sched.Run(ctx)
					}()
				}

				err := serveHTTP(ctx, e)
				wg.Wait()
				return err
			})
		},
	}
	cmd.Flags().Bool("with-workers", false, "also run the worker pool in this process")
	cmd.Flags().Bool("with-scheduler", false, "also run the scheduler in this process")
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			return run("worker", func(ctx context.Context, e *engine) error {
				if e.postgres == nil {
					return persistence.ErrNoDSN
				}
				worker.Start(ctx, e.pool(workers), e.notificationService)
				return nil
			})
		},
	}
	cmd.Flags().Int("workers", 0, "number of workers (defaults to ENGINE_WORKERS)")
	return cmd
}

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run periodic re-scans, lease reclamation and retention",
		RunE: func(*cobra.Command, []string) error {
			return run("scheduler", func(ctx context.Context, e *engine) error {
				if e.postgres == nil {
					return persistence.ErrNoDSN
				}
				sched, err := e.scheduler()
				if err != nil {
					return err
				}
				sched.Run(ctx)
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(*cobra.Command, []string) error {
			cfg, logger, err := setup("migrate")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			cfg.Postgres.RunMigrations = false
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			tenant, _ := cmd.Flags().GetString("tenant")
			role, _ := cmd.Flags().GetString("role")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(subject, tenant, auth.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("subject", "local-admin", "token subject")
	cmd.Flags().String("tenant", "default", "tenant id")
	cmd.Flags().String("role", string(auth.RoleAdmin), "admin, agent or service")
	return cmd
}

func setup(role string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App, role)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// run builds an engine and calls fn with a context cancelled on SIGINT or SIGTERM.
func run(role string, fn func(ctx context.Context, e *engine) error) error {
	cfg, logger, err := setup(role)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	err = fn(ctx, e)
	logger.Info("shutting down", zap.Error(err))
	return err
}

func serveHTTP(ctx context.Context, e *engine) error {
	app := fiber.New(fiber.Config{
		AppName:               e.cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, e.logger.Named("http"), e.metrics, e.cfg.App.RequestTimeout())

	tokens := auth.NewTokenManager(e.cfg.Auth.JWTSecret, e.cfg.Auth.AccessTokenTTLMinutes)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(e.cfg.App.Name, e.cfg.App.Version, e.postgres, e.redis),
		Items:          handlers.NewItemsHandler(e.itemService),
		Catalog:        handlers.NewCatalogHandler(e.catalogService),
		Jobs:           handlers.NewJobsHandler(e.dispatcher),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        e.metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http listening", zap.String("addr", e.cfg.App.Addr()))
		errCh <- app.Listen(e.cfg.App.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}
