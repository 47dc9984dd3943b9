package dto

import (
	"time"

	"github.com/spec-kit/workflow-engine/internal/domain"
)

// JobResponse exposes a job for the dead-letter view.
type JobResponse struct {
	ID           string            `json:"id"`
	Type         domain.JobType    `json:"type"`
	Payload      domain.JobPayload `json:"payload"`
	DedupeKey    *string           `json:"dedupe_key,omitempty"`
	Status       domain.JobStatus  `json:"status"`
	Attempt      int               `json:"attempt"`
	MaxAttempts  int               `json:"max_attempts"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	LastError    *string           `json:"last_error,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewJobResponse maps a job.
func NewJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:           job.ID,
		Type:         job.Type,
		Payload:      job.Payload,
		DedupeKey:    job.DedupeKey,
		Status:       job.Status,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		LastError:    job.LastError,
		UpdatedAt:    job.UpdatedAt,
	}
}
