package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-engine/internal/api/dto"
	"github.com/spec-kit/workflow-engine/internal/jobs"
)

// JobsHandler exposes the dead-letter view to operators.
type JobsHandler struct {
	dispatcher *jobs.Dispatcher
}

// NewJobsHandler constructs handler.
func NewJobsHandler(dispatcher *jobs.Dispatcher) *JobsHandler {
	return &JobsHandler{dispatcher: dispatcher}
}

// ListDeadLetters GET /jobs/dead-letter.
func (h *JobsHandler) ListDeadLetters(c *fiber.Ctx) error {
	limit, offset := parsePage(c)
	list, err := h.dispatcher.ListDeadLetters(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	out := make([]dto.JobResponse, 0, len(list))
	for i := range list {
		out = append(out, dto.NewJobResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Requeue POST /jobs/:id/requeue.
func (h *JobsHandler) Requeue(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.dispatcher.Requeue(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "status": "pending"}})
}
