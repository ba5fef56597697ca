// Package webhook applies provider callbacks to job records.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/events"
	"github.com/cuongbtq/roomflow/internal/signature"
	"github.com/cuongbtq/roomflow/internal/storage"
)

// Header names carrying provider signatures
const (
	GenerationSignatureHeader = "webhook-signature"
	PaymentSignatureHeader    = "X-Razorpay-Signature"
)

const eventOrderPaid = "order.paid"

// Outcome describes what a delivery did
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is returned for every acknowledged delivery
type Result struct {
	Outcome Outcome
	Job     *domain.Job
}

// JobStore is the subset of the job store used by the ingestor
type JobStore interface {
	FindByCorrelation(ctx context.Context, kind domain.Kind, correlationID string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, update storage.StatusUpdate) (*domain.Job, error)
}

// Publisher announces applied transitions
type Publisher interface {
	PublishJobEvent(ctx context.Context, event domain.JobEvent) error
}

// Config holds the shared secrets. An empty GenerationSecret disables
// signature checks on generation callbacks.
type Config struct {
	GenerationSecret string
	PaymentSecret    string
}

// Ingestor verifies, parses and applies webhook deliveries
type Ingestor struct {
	store     JobStore
	ledger    Ledger
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor. ledger and publisher may be nil.
func NewIngestor(store JobStore, ledger Ledger, publisher Publisher, cfg Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// transition is the local change a delivery asks for; nil means ignore.
type transition struct {
	update      storage.StatusUpdate
	description string
}

// HandleGeneration processes a generation provider callback.
func (i *Ingestor) HandleGeneration(ctx context.Context, rawBody []byte, sig string) (*Result, error) {
	if i.cfg.GenerationSecret != "" && !signature.Verify(rawBody, sig, i.cfg.GenerationSecret) {
		return nil, i.rejectSignature(domain.KindTransformation)
	}

	return i.process(ctx, domain.KindTransformation, rawBody, func() (string, func(*domain.Job) *transition, error) {
		var event generationEvent
		if err := json.Unmarshal(rawBody, &event); err != nil {
			return "", nil, domain.NewInvalidArgument("malformed generation webhook: %v", err)
		}
		return event.ID, func(job *domain.Job) *transition {
			return i.mapGeneration(job, &event)
		}, nil
	})
}

// HandlePayment processes a payment gateway callback. The signature is
// always required.
func (i *Ingestor) HandlePayment(ctx context.Context, rawBody []byte, sig string) (*Result, error) {
	if !signature.Verify(rawBody, sig, i.cfg.PaymentSecret) {
		return nil, i.rejectSignature(domain.KindPaymentOrder)
	}

	var event paymentEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, domain.NewInvalidArgument("malformed payment webhook: %v", err)
	}
	if event.Event != eventOrderPaid {
		i.logger.Info("Ignoring payment event",
			slog.String("event", event.Event),
		)
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	return i.process(ctx, domain.KindPaymentOrder, rawBody, func() (string, func(*domain.Job) *transition, error) {
		orderID := event.Payload.Order.Entity.ID
		return orderID, func(*domain.Job) *transition {
			ref := event.Payload.Payment.Entity.ID
			if ref == "" {
				ref = orderID
			}
			return &transition{
				update:      storage.StatusUpdate{Status: domain.StatusPaid, ResultRef: ref},
				description: eventOrderPaid,
			}
		}, nil
	})
}

func (i *Ingestor) rejectSignature(kind domain.Kind) error {
	i.logger.Warn("Rejected webhook with invalid signature",
		slog.String("kind", string(kind)),
	)
	return domain.ErrSignatureInvalid
}

// process runs the shared part of a delivery: ledger short-circuit, parse,
// lookup, map, apply, publish, record.
func (i *Ingestor) process(
	ctx context.Context,
	kind domain.Kind,
	rawBody []byte,
	parse func() (string, func(*domain.Job) *transition, error),
) (*Result, error) {
	key := DeliveryKey(kind, rawBody)
	if i.ledger != nil {
		seen, err := i.ledger.Seen(ctx, key)
		if err != nil {
			i.logger.Warn("Delivery ledger unavailable", slog.Any("error", err))
		} else if seen {
			i.logger.Debug("Duplicate webhook delivery acknowledged",
				slog.String("kind", string(kind)),
			)
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	correlationID, mapper, err := parse()
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		return nil, domain.NewInvalidArgument("webhook is missing the correlation id")
	}

	log := i.logger.With(
		slog.String("kind", string(kind)),
		slog.String("correlation_id", correlationID),
	)

	job, err := i.store.FindByCorrelation(ctx, kind, correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			log.Warn("Webhook for unknown correlation id")
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	log = log.With(slog.String("job_id", job.ID))

	change := mapper(job)
	if change == nil {
		i.remember(ctx, key)
		return &Result{Outcome: OutcomeIgnored, Job: job}, nil
	}

	updated, err := i.store.UpdateStatus(ctx, job.ID, change.update)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info("Webhook transition already applied or superseded",
				slog.String("status", string(change.update.Status)),
				slog.String("reported", change.description),
			)
			if updated == nil {
				updated = job
			}
			// A success status already in place may still be unannounced if
			// the publish after the first delivery failed.
			if updated.Status == change.update.Status && updated.Status == domain.SuccessStatus(updated.Kind) {
				if err := i.publish(ctx, updated); err != nil {
					return nil, err
				}
			}
			i.remember(ctx, key)
			return &Result{Outcome: OutcomeNoop, Job: updated}, nil
		}
		return nil, fmt.Errorf("failed to apply webhook: %w", err)
	}

	log.Info("Webhook applied",
		slog.String("status", string(updated.Status)),
		slog.String("reported", change.description),
	)

	if err := i.publish(ctx, updated); err != nil {
		return nil, err
	}
	i.remember(ctx, key)

	return &Result{Outcome: OutcomeApplied, Job: updated}, nil
}

func (i *Ingestor) mapGeneration(job *domain.Job, event *generationEvent) *transition {
	log := i.logger.With(
		slog.String("job_id", job.ID),
		slog.String("reported", event.Status),
	)

	switch event.Status {
	case "succeeded":
		ref, err := event.resultRef()
		if err != nil {
			log.Warn("Ignoring prediction with unreadable output", slog.Any("error", err))
			return nil
		}
		if ref == "" {
			return &transition{
				update:      storage.StatusUpdate{Status: domain.StatusFailed, FailureReason: "prediction succeeded without output"},
				description: event.Status,
			}
		}
		return &transition{
			update:      storage.StatusUpdate{Status: domain.StatusCompleted, ResultRef: ref},
			description: event.Status,
		}
	case "failed", "canceled":
		return &transition{
			update:      storage.StatusUpdate{Status: domain.StatusFailed, FailureReason: event.failureReason()},
			description: event.Status,
		}
	case "starting", "processing":
		return &transition{
			update:      storage.StatusUpdate{Status: domain.StatusProcessing},
			description: event.Status,
		}
	default:
		log.Warn("Ignoring unrecognized prediction status")
		return nil
	}
}

// publish announces job's status. Only a failed success-status event is
// returned, as retryable, so the provider redelivers and the ledger stays
// clear; other statuses are logged.
func (i *Ingestor) publish(ctx context.Context, job *domain.Job) error {
	if i.publisher == nil {
		return nil
	}

	err := i.publisher.PublishJobEvent(ctx, events.NewJobEvent(job))
	if err == nil {
		return nil
	}

	i.logger.Error("Failed to publish job event",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Any("error", err),
	)
	if job.Status != domain.SuccessStatus(job.Kind) {
		return nil
	}
	return domain.NewRetryableError(fmt.Errorf("failed to publish job event: %w", err))
}

func (i *Ingestor) remember(ctx context.Context, key string) {
	if i.ledger == nil {
		return
	}
	if err := i.ledger.Record(ctx, key); err != nil {
		i.logger.Warn("Failed to record webhook delivery", slog.Any("error", err))
	}
}
