package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/cuongbtq/roomflow/internal/submitter"
	"github.com/cuongbtq/roomflow/internal/webhook"
	"github.com/shopspring/decimal"
)

// JobStore is the read side of the job store used by handlers
type JobStore interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	CreditBalance(ctx context.Context, ownerID string) (int64, error)
}

// Submitter starts jobs with external providers
type Submitter interface {
	SubmitTransformation(ctx context.Context, ownerID, imageRef, styleID string) (*domain.Job, error)
	SubmitPaymentOrder(ctx context.Context, ownerID string, amount decimal.Decimal, currency string, notes map[string]string) (*submitter.PaymentOrder, error)
}

// Ingestor applies provider callbacks
type Ingestor interface {
	HandleGeneration(ctx context.Context, rawBody []byte, signature string) (*webhook.Result, error)
	HandlePayment(ctx context.Context, rawBody []byte, signature string) (*webhook.Result, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Service      string
	Store        JobStore
	Submitter    Submitter
	Ingestor     Ingestor
	HealthChecks map[string]HealthCheck
	MaxWait      time.Duration
	PollInterval time.Duration
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	store        JobStore
	submitter    Submitter
	maxWait      time.Duration
	pollInterval time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		store:        deps.Store,
		submitter:    deps.Submitter,
		maxWait:      deps.MaxWait,
		pollInterval: deps.PollInterval,
	}
}

// WebhookHandler handles provider callbacks
type WebhookHandler struct {
	logger   *slog.Logger
	ingestor Ingestor
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:   deps.Logger,
		ingestor: deps.Ingestor,
	}
}

// marshalMetadata keeps nil metadata out of responses
func marshalMetadata(m domain.Metadata) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// rawOrEmpty guards against a nil provider order in responses
func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
