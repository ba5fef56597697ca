package domain

import "time"

// JobEvent is published whenever a webhook moves a job to a new status
type JobEvent struct {
	EventID       string    `json:"event_id"`
	JobID         string    `json:"job_id"`
	Kind          Kind      `json:"kind"`
	Status        Status    `json:"status"`
	OwnerID       string    `json:"owner_id"`
	CorrelationID string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}
