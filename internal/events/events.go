// Package events carries job status events between the API and the worker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/google/uuid"
)

// Broker publishes JSON messages; *rabbitmq.Client satisfies it
type Broker interface {
	PublishJSON(ctx context.Context, messageID string, v any) error
}

// NewJobEvent snapshots job's current status under a fresh event id
func NewJobEvent(job *domain.Job) domain.JobEvent {
	return domain.JobEvent{
		EventID:       uuid.New().String(),
		JobID:         job.ID,
		Kind:          job.Kind,
		Status:        job.Status,
		OwnerID:       job.OwnerID,
		CorrelationID: job.CorrelationID,
		OccurredAt:    job.UpdatedAt,
	}
}

// Publisher sends job events to the broker
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger}
}

// PublishJobEvent publishes event using its id as the message id
func (p *Publisher) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	if err := p.broker.PublishJSON(ctx, event.EventID, event); err != nil {
		return fmt.Errorf("failed to publish job event %s: %w", event.EventID, err)
	}

	p.logger.Debug("Job event published",
		slog.String("event_id", event.EventID),
		slog.String("job_id", event.JobID),
		slog.String("status", string(event.Status)),
	)
	return nil
}

// Decode parses and validates a job event message body
func Decode(body []byte) (domain.JobEvent, error) {
	var event domain.JobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, domain.NewInvalidArgument("malformed job event: %v", err)
	}
	if event.JobID == "" {
		return event, domain.NewInvalidArgument("job event is missing job_id")
	}
	if !event.Kind.Valid() {
		return event, domain.NewInvalidArgument("job event has unknown kind %q", event.Kind)
	}
	if _, err := domain.ParseStatus(event.Kind, string(event.Status)); err != nil {
		return event, err
	}
	return event, nil
}
