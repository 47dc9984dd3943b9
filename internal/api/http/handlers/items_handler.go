package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-engine/internal/api/dto"
	"github.com/spec-kit/workflow-engine/internal/auth"
	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/repository"
	"github.com/spec-kit/workflow-engine/internal/service"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// ItemsHandler exposes the inbound item API. Every call is scoped to the caller's tenant.
type ItemsHandler struct {
	service *service.ItemService
}

// NewItemsHandler constructs handler.
func NewItemsHandler(itemService *service.ItemService) *ItemsHandler {
	return &ItemsHandler{service: itemService}
}

// CreateItem POST /items.
func (h *ItemsHandler) CreateItem(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	item, err := h.service.CreateItem(c.UserContext(), service.CreateItemInput{
		TenantID:    principal.TenantID,
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		ActorID:     principal.SubjectID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewItemSummary(item)})
}

// ListItems GET /items.
func (h *ItemsHandler) ListItems(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	filter := parseItemQuery(c)
	filter.TenantID = principal.TenantID

	items, err := h.service.ListItems(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]dto.ItemSummary, 0, len(items))
	for i := range items {
		out = append(out, dto.NewItemSummary(&items[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// GetItem GET /items/:id.
func (h *ItemsHandler) GetItem(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	item, err := h.service.GetItem(c.UserContext(), principal.TenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewItemDetail(item)})
}

// UpdateItem PATCH /items/:id.
func (h *ItemsHandler) UpdateItem(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	in := service.UpdateItemInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		ActorID:     principal.SubjectID,
	}
	if req.Assignee != nil {
		in.Assignee = &service.AssigneeInput{TeamID: req.Assignee.TeamID, MemberID: req.Assignee.MemberID}
	}

	item, err := h.service.UpdateItem(c.UserContext(), principal.TenantID, c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewItemSummary(item)})
}

// Transition POST /items/:id/status.
func (h *ItemsHandler) Transition(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	item, err := h.service.Transition(c.UserContext(), principal.TenantID, c.Params("id"), req.Status, principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewItemSummary(item)})
}

// RecordFirstResponse POST /items/:id/first-response.
func (h *ItemsHandler) RecordFirstResponse(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	item, err := h.service.RecordFirstResponse(c.UserContext(), principal.TenantID, c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewItemSummary(item)})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func parseItemQuery(c *fiber.Ctx) repository.ItemFilter {
	filter := repository.ItemFilter{}
	for _, part := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.ItemStatus(part))
	}
	for _, part := range splitQuery(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.Priority(part))
	}
	if category := c.Query("category"); category != "" {
		filter.Category = &category
	}
	if member := c.Query("assigned_member_id"); member != "" {
		filter.AssignedMemberID = &member
	}
	filter.Limit, filter.Offset = parsePage(c)
	return filter
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePage(c *fiber.Ctx) (limit, offset int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}
