package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-engine/internal/api/dto"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/service"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// CatalogHandler administers teams, SLA definitions and escalation rules.
type CatalogHandler struct {
	service *service.CatalogService
}

// NewCatalogHandler constructs handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{service: catalog}
}

// CreateTeam POST /teams.
func (h *CatalogHandler) CreateTeam(c *fiber.Ctx) error {
	var req dto.CreateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	members := make([]domain.Member, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, domain.Member{
			UserID:      m.UserID,
			Role:        m.Role,
			Skills:      m.Skills,
			MaxWorkload: m.MaxWorkload,
		})
	}
	team, err := h.service.CreateTeam(c.UserContext(), service.CreateTeamInput{
		ID:        req.ID,
		Name:      req.Name,
		Category:  req.Category,
		IsDefault: req.IsDefault,
		Members:   members,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTeamResponse(team)})
}

// ListTeams GET /teams.
func (h *CatalogHandler) ListTeams(c *fiber.Ctx) error {
	teams, err := h.service.ListTeams(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.TeamResponse, 0, len(teams))
	for i := range teams {
		out = append(out, dto.NewTeamResponse(&teams[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// GetTeam GET /teams/:id.
func (h *CatalogHandler) GetTeam(c *fiber.Ctx) error {
	team, err := h.service.GetTeam(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTeamResponse(team)})
}

// UpsertSLADefinition PUT /sla-definitions.
func (h *CatalogHandler) UpsertSLADefinition(c *fiber.Ctx) error {
	var req dto.SLADefinitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	def, err := h.service.UpsertSLADefinition(c.UserContext(), domain.SLADefinition{
		Category:            req.Category,
		Priority:            req.Priority,
		ResponseTimeHours:   req.ResponseTimeHours,
		ResolutionTimeHours: req.ResolutionTimeHours,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSLADefinitionResponse(def)})
}

// ListSLADefinitions GET /sla-definitions.
func (h *CatalogHandler) ListSLADefinitions(c *fiber.Ctx) error {
	defs, err := h.service.ListSLADefinitions(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.SLADefinitionResponse, 0, len(defs))
	for i := range defs {
		out = append(out, dto.NewSLADefinitionResponse(&defs[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// CreateEscalationRule POST /escalation-rules.
func (h *CatalogHandler) CreateEscalationRule(c *fiber.Ctx) error {
	var req dto.EscalationRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rule, err := h.service.CreateEscalationRule(c.UserContext(), req.ToDomain())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewEscalationRuleResponse(rule)})
}

// ListEscalationRules GET /escalation-rules.
func (h *CatalogHandler) ListEscalationRules(c *fiber.Ctx) error {
	rules, err := h.service.ListEscalationRules(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]dto.EscalationRuleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, dto.NewEscalationRuleResponse(&rules[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}
