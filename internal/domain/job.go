package domain

import "time"

// JobType tags the handler a job is dispatched to.
type JobType string

const (
	JobAutoAssign  JobType = "auto_assign"
	JobCheckSLA    JobType = "check_sla"
	JobEscalate    JobType = "escalate"
	JobAutoResolve JobType = "auto_resolve"
	JobNotify      JobType = "notify"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobAutoAssign, JobCheckSLA, JobEscalate, JobAutoResolve, JobNotify:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusClaimed         JobStatus = "claimed"
	JobStatusSucceeded       JobStatus = "succeeded"
	JobStatusFailedRetryable JobStatus = "failed_retryable"
	JobStatusFailedTerminal  JobStatus = "failed_terminal"
)

// Active reports whether the job still holds its dedupe key.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusClaimed || s == JobStatusFailedRetryable
}

// Claimable reports whether a due job in this status may be handed to a worker.
func (s JobStatus) Claimable() bool {
	return s == JobStatusPending || s == JobStatusFailedRetryable
}

// Escalation reasons carried in escalate payloads.
const (
	ReasonResponseSLABreach   = "response_sla_breach"
	ReasonResolutionSLABreach = "resolution_sla_breach"
	ReasonPeriodicReview      = "periodic_review"
)

// JobPayload is the JSON document handed to a handler; fields are used per job type.
type JobPayload struct {
	ItemID    string              `json:"itemId"`
	TenantID  string              `json:"tenantId"`
	Reason    string              `json:"reason,omitempty"`
	Level     *int                `json:"level,omitempty"`
	Since     *time.Time          `json:"since,omitempty"`
	Channel   NotificationChannel `json:"channel,omitempty"`
	Recipient string              `json:"recipient,omitempty"`
	Title     string              `json:"title,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// Job is a durable unit of asynchronous work.
type Job struct {
	ID             string
	Type           JobType
	Payload        JobPayload
	DedupeKey      *string
	ScheduledFor   time.Time
	Attempt        int
	MaxAttempts    int
	Status         JobStatus
	ClaimedBy      *string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
