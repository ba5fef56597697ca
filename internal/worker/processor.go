package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/events"
	"github.com/cuongbtq/roomflow/internal/submitter"
	"github.com/shopspring/decimal"
)

// CreditStore is the slice of the job store the processor needs
type CreditStore interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GrantCredits(ctx context.Context, jobID, ownerID string, credits int64) (bool, error)
}

// Processor turns paid payment-order events into credit grants
type Processor struct {
	store  CreditStore
	logger *slog.Logger
}

// NewProcessor creates a Processor
func NewProcessor(store CreditStore, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Process handles one job event. Events other than a paid payment order
// are acknowledged without work. Granting is idempotent per job, so
// redelivered events are harmless.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	event, err := events.Decode(body)
	if err != nil {
		return err
	}

	if event.Kind != domain.KindPaymentOrder || event.Status != domain.StatusPaid {
		p.logger.Debug("Skipping event",
			slog.String("job_id", event.JobID),
			slog.String("kind", string(event.Kind)),
			slog.String("status", string(event.Status)),
		)
		return nil
	}

	job, err := p.store.GetJob(ctx, event.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.NewInvalidArgument("paid event for unknown job %s", event.JobID)
		}
		return domain.NewRetryableError(err)
	}
	if job.Status != domain.StatusPaid {
		return domain.NewInvalidArgument("job %s is %s, not paid", job.ID, job.Status)
	}

	plan, err := resolvePlan(job)
	if err != nil {
		return err
	}

	granted, err := p.store.GrantCredits(ctx, job.ID, job.OwnerID, plan.Credits)
	if err != nil {
		return domain.NewRetryableError(err)
	}

	if granted {
		p.logger.Info("Plan credits granted",
			slog.String("job_id", job.ID),
			slog.String("owner_id", job.OwnerID),
			slog.String("plan", plan.ID),
			slog.Int64("credits", plan.Credits),
		)
	}
	return nil
}

func resolvePlan(job *domain.Job) (domain.Plan, error) {
	planID, _ := job.Metadata[submitter.MetaNotesPfx+"plan"].(string)

	var amount decimal.Decimal
	switch v := job.Metadata[submitter.MetaAmount].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return domain.Plan{}, domain.NewInvalidArgument("job %s has unreadable amount %q", job.ID, v)
		}
		amount = d
	case float64:
		amount = decimal.NewFromFloat(v)
	case nil:
		if planID == "" {
			return domain.Plan{}, domain.NewInvalidArgument("job %s has neither plan nor amount", job.ID)
		}
	default:
		return domain.Plan{}, domain.NewInvalidArgument("job %s has unreadable amount %v", job.ID, v)
	}

	plan, err := domain.ResolvePlan(planID, amount)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return plan, nil
}
