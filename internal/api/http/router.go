package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/workflow-engine/internal/api/http/handlers"
	"github.com/spec-kit/workflow-engine/internal/auth"
	"github.com/spec-kit/workflow-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Items          *handlers.ItemsHandler
	Catalog        *handlers.CatalogHandler
	Jobs           *handlers.JobsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)

	items := api.Group("/items", auth.RequireRole(auth.RoleAdmin, auth.RoleAgent, auth.RoleService))
	items.Post("/", cfg.Items.CreateItem)
	items.Get("/", cfg.Items.ListItems)
	items.Get("/:id", cfg.Items.GetItem)
	items.Patch("/:id", cfg.Items.UpdateItem)
	items.Post("/:id/status", cfg.Items.Transition)
	items.Post("/:id/first-response", cfg.Items.RecordFirstResponse)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.Post("/teams", cfg.Catalog.CreateTeam)
	admin.Get("/teams", cfg.Catalog.ListTeams)
	admin.Get("/teams/:id", cfg.Catalog.GetTeam)
	admin.Put("/sla-definitions", cfg.Catalog.UpsertSLADefinition)
	admin.Get("/sla-definitions", cfg.Catalog.ListSLADefinitions)
	admin.Post("/escalation-rules", cfg.Catalog.CreateEscalationRule)
	admin.Get("/escalation-rules", cfg.Catalog.ListEscalationRules)
	admin.Get("/jobs/dead-letter", cfg.Jobs.ListDeadLetters)
	admin.Post("/jobs/:id/requeue", cfg.Jobs.Requeue)
}
