// Package submitter creates job records and hands the work to external providers.
package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/events"
	"github.com/cuongbtq/roomflow/internal/provider"
	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/shopspring/decimal"
)

// JobStore is the subset of the job store the submitter writes to
type JobStore interface {
	CreateJob(ctx context.Context, in domain.NewJob) (*domain.Job, error)
	AttachCorrelation(ctx context.Context, id, correlationID string, status domain.Status) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, update storage.StatusUpdate) (*domain.Job, error)
}

// Publisher announces status changes made at submission time
type Publisher interface {
	PublishJobEvent(ctx context.Context, event domain.JobEvent) error
}

// Metadata keys written on submitted jobs
const (
	MetaStyle    = "style"
	MetaPrompt   = "prompt"
	MetaAmount   = "amount"
	MetaCurrency = "currency"
	MetaReceipt  = "receipt"
	MetaNotesPfx = "notes."
)

// PaymentOrder is the result of a payment submission
type PaymentOrder struct {
	Job           *domain.Job
	ProviderOrder json.RawMessage
}

// Submitter submits transformations and payment orders
type Submitter struct {
	store           JobStore
	generation      provider.GenerationClient
	payment         provider.PaymentGateway
	publisher       Publisher
	defaultCurrency string
	logger          *slog.Logger
}

// New creates a Submitter. publisher may be nil.
func New(store JobStore, generation provider.GenerationClient, payment provider.PaymentGateway, publisher Publisher, defaultCurrency string, logger *slog.Logger) *Submitter {
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}
	return &Submitter{
		store:           store,
		generation:      generation,
		payment:         payment,
		publisher:       publisher,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		logger:          logger,
	}
}

// SubmitTransformation records a Transformation job and sends it to the
// generation provider. On acceptance the job is Processing with the
// provider's prediction id attached.
func (s *Submitter) SubmitTransformation(ctx context.Context, ownerID, imageRef, styleID string) (*domain.Job, error) {
	ownerID = strings.TrimSpace(ownerID)
	imageRef = strings.TrimSpace(imageRef)
	if ownerID == "" {
		return nil, domain.NewInvalidArgument("owner_id is required")
	}
	if imageRef == "" {
		return nil, domain.NewInvalidArgument("image_ref is required")
	}

	prompt, err := domain.StylePrompt(styleID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.CreateJob(ctx, domain.NewJob{
		Kind:     domain.KindTransformation,
		OwnerID:  ownerID,
		InputRef: imageRef,
		Metadata: domain.Metadata{
			MetaStyle:  styleID,
			MetaPrompt: prompt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transformation job: %w", err)
	}

	prediction, err := s.generation.CreatePrediction(ctx, provider.GenerationRequest{
		ImageURL: imageRef,
		Prompt:   prompt,
	})
	if err != nil {
		return s.failSubmission(ctx, job, err)
	}

	jobID := job.ID
	job, err = s.store.AttachCorrelation(ctx, jobID, prediction.ID, domain.StatusProcessing)
	if err != nil {
		s.logger.Error("Failed to attach prediction to job",
			slog.String("job_id", jobID),
			slog.String("correlation_id", prediction.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to attach prediction %s: %w", prediction.ID, err)
	}

	s.logger.Info("Transformation submitted",
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("style", styleID),
	)

	return job, nil
}

// SubmitPaymentOrder records a PaymentOrder job and opens the matching order
// with the payment gateway. The gateway's raw order is returned for the
// client's checkout.
func (s *Submitter) SubmitPaymentOrder(ctx context.Context, ownerID string, amount decimal.Decimal, currency string, notes map[string]string) (*PaymentOrder, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.NewInvalidArgument("owner_id is required")
	}
	if !amount.IsPositive() {
		return nil, domain.NewInvalidArgument("amount must be greater than 0")
	}
	if provider.MinorUnits(amount) <= 0 {
		return nil, domain.NewInvalidArgument("amount %s is below the smallest currency unit", amount)
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	receipt, err := provider.NewReceipt()
	if err != nil {
		return nil, err
	}

	meta := domain.Metadata{
		MetaAmount:   amount.String(),
		MetaCurrency: currency,
		MetaReceipt:  receipt,
	}
	for k, v := range notes {
		meta[MetaNotesPfx+k] = v
	}

	job, err := s.store.CreateJob(ctx, domain.NewJob{
		Kind:     domain.KindPaymentOrder,
		OwnerID:  ownerID,
		InputRef: amount.String() + " " + currency,
		Metadata: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment job: %w", err)
	}

	order, err := s.payment.CreateOrder(ctx, provider.OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		_, err = s.failSubmission(ctx, job, err)
		return nil, err
	}

	status := domain.StatusCreated
	switch order.Status {
	case "created", "":
	case "paid":
		status = domain.StatusPaid
	default:
		s.logger.Warn("Unexpected initial order status, treating as created",
			slog.String("job_id", job.ID),
			slog.String("correlation_id", order.ID),
			slog.String("gateway_status", order.Status),
		)
	}

	jobID := job.ID
	job, err = s.store.AttachCorrelation(ctx, jobID, order.ID, domain.StatusCreated)
	if err != nil {
		s.logger.Error("Failed to attach order to job",
			slog.String("job_id", jobID),
			slog.String("correlation_id", order.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to attach order %s: %w", order.ID, err)
	}

	if status == domain.StatusPaid {
		paid, err := s.store.UpdateStatus(ctx, jobID, storage.StatusUpdate{
			Status:    domain.StatusPaid,
			ResultRef: order.ID,
		})
		switch {
		case err == nil:
			job = paid
			s.publishPaid(ctx, job)
		case errors.Is(err, domain.ErrInvalidTransition):
			// a webhook got there first
			if paid != nil {
				job = paid
			}
		default:
			return nil, fmt.Errorf("failed to mark order %s paid: %w", order.ID, err)
		}
	}

	s.logger.Info("Payment order submitted",
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("amount", amount.String()),
		slog.String("currency", currency),
	)

	return &PaymentOrder{Job: job, ProviderOrder: order.Raw}, nil
}

// publishPaid announces an order the gateway reported paid on creation.
// A failure is only logged; the gateway's order.paid webhook announces it
// again.
func (s *Submitter) publishPaid(ctx context.Context, job *domain.Job) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJobEvent(ctx, events.NewJobEvent(job)); err != nil {
		s.logger.Error("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Any("error", err),
		)
	}
}

// failSubmission marks job Failed after the provider refused or could not be
// reached, and returns the provider error to the caller.
func (s *Submitter) failSubmission(ctx context.Context, job *domain.Job, cause error) (*domain.Job, error) {
	s.logger.Warn("Provider call failed, marking job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Any("error", cause),
	)

	// the caller's context may already be done
	writeCtx := context.WithoutCancel(ctx)
	if _, err := s.store.UpdateStatus(writeCtx, job.ID, storage.StatusUpdate{
		Status:        domain.StatusFailed,
		FailureReason: cause.Error(),
	}); err != nil {
		s.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	return nil, fmt.Errorf("job %s: %w", job.ID, cause)
}
