package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type SubmitTransformationRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	ImageRef string `json:"image_ref" binding:"required"`
	StyleID  string `json:"style_id" binding:"required"`
}

type SubmitTransformationResponse struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type SubmitPaymentOrderRequest struct {
	OwnerID  string            `json:"owner_id" binding:"required"`
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Notes    map[string]string `json:"notes"`
}

type SubmitPaymentOrderResponse struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	ProviderOrder json.RawMessage `json:"provider_order"`
}

type JobStatusResponse struct {
	JobID           string `json:"job_id"`
	Kind            string `json:"kind,omitempty"`
	Status          string `json:"status"`
	ResultRef       string `json:"result_ref,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	Terminal        bool   `json:"terminal"`
	StillProcessing bool   `json:"still_processing"`
}

type ListJobsRequest struct {
	OwnerID  string `form:"owner_id" binding:"required"`
	Kind     string `form:"kind"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string         `json:"job_id"`
	OwnerID       string         `json:"owner_id"`
	Kind          string         `json:"kind"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Status        string         `json:"status"`
	InputRef      string         `json:"input_ref"`
	ResultRef     string         `json:"result_ref,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

type CreditsResponse struct {
	OwnerID string `json:"owner_id"`
	Credits int64  `json:"credits"`
}

type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}
