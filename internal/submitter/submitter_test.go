package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/provider"
	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/cuongbtq/roomflow/internal/storage/storagetest"
	"github.com/cuongbtq/roomflow/shared/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeneration struct {
	calls  []provider.GenerationRequest
	next   int
	err    error
	onCall func()
}

func (f *fakeGeneration) CreatePrediction(_ context.Context, req provider.GenerationRequest) (*provider.Prediction, error) {
	f.calls = append(f.calls, req)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	return &provider.Prediction{ID: fmt.Sprintf("pred_%d", f.next), Status: "starting"}, nil
}

type recordingPublisher struct {
	events []domain.JobEvent
	err    error
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, event domain.JobEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type fakeGateway struct {
	calls  []provider.OrderRequest
	status string
	err    error
}

func (f *fakeGateway) CreateOrder(_ context.Context, req provider.OrderRequest) (*provider.Order, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = "created"
	}
	id := fmt.Sprintf("order_%d", len(f.calls))
	raw, _ := json.Marshal(map[string]any{
		"id":       id,
		"entity":   "order",
		"amount":   provider.MinorUnits(req.Amount),
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"status":   status,
	})
	return &provider.Order{ID: id, Status: status, Currency: req.Currency, Receipt: req.Receipt, Raw: raw}, nil
}

func newTestSubmitter(t *testing.T) (*Submitter, *storage.Storage, *fakeGeneration, *fakeGateway) {
	t.Helper()
	store := storagetest.New(t)
	gen := &fakeGeneration{}
	pay := &fakeGateway{}
	return New(store, gen, pay, nil, "inr", logger.NewDiscard().Logger), store, gen, pay
}

func countJobs(t *testing.T, store *storage.Storage) int {
	t.Helper()
	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{PageSize: 100})
	require.NoError(t, err)
	return len(jobs)
}

func TestSubmitTransformation(t *testing.T) {
	s, store, gen, _ := newTestSubmitter(t)
	ctx := context.Background()

	job, err := s.SubmitTransformation(ctx, "user-1", "https://cdn.example.com/room.png", "modern")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessing, job.Status)
	assert.Equal(t, "pred_1", job.CorrelationID)
	assert.Empty(t, job.ResultRef)

	require.Len(t, gen.calls, 1)
	prompt, err := domain.StylePrompt("modern")
	require.NoError(t, err)
	assert.Equal(t, prompt, gen.calls[0].Prompt)
	assert.Equal(t, "https://cdn.example.com/room.png", gen.calls[0].ImageURL)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Equal(t, "modern", stored.Metadata[MetaStyle])
}

func TestSubmitTransformation_DistinctCorrelations(t *testing.T) {
	s, _, _, _ := newTestSubmitter(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		job, err := s.SubmitTransformation(context.Background(), "user-1", "https://cdn.example.com/room.png", "industrial")
		require.NoError(t, err)
		assert.False(t, seen[job.CorrelationID])
		seen[job.CorrelationID] = true
	}
}

func TestSubmitTransformation_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		image   string
		style   string
		wantErr error
	}{
		{name: "unknown style", owner: "user-1", image: "https://x/y.png", style: "unknown", wantErr: domain.ErrUnknownStyle},
		{name: "missing owner", owner: " ", image: "https://x/y.png", style: "modern", wantErr: domain.ErrInvalidArgument},
		{name: "missing image", owner: "user-1", image: "", style: "modern", wantErr: domain.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, gen, _ := newTestSubmitter(t)

			job, err := s.SubmitTransformation(context.Background(), tt.owner, tt.image, tt.style)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)
			assert.Empty(t, gen.calls)
			assert.Equal(t, 0, countJobs(t, store))
		})
	}
}

func TestSubmitTransformation_ProviderFailure(t *testing.T) {
	s, store, gen, _ := newTestSubmitter(t)
	gen.err = fmt.Errorf("create prediction: %w", domain.ErrProviderUnavailable)

	job, err := s.SubmitTransformation(context.Background(), "user-1", "https://cdn.example.com/room.png", "modern")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Nil(t, job)

	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusFailed, jobs[0].Status)
	assert.Empty(t, jobs[0].CorrelationID)
	assert.Contains(t, jobs[0].FailureReason, "provider unavailable")
}

func TestSubmitTransformation_CancelledCallerStillRecordsFailure(t *testing.T) {
	s, store, gen, _ := newTestSubmitter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.onCall = cancel
	gen.err = context.Canceled

	_, err := s.SubmitTransformation(ctx, "user-1", "https://cdn.example.com/room.png", "modern")
	require.ErrorIs(t, err, context.Canceled)

	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusFailed, jobs[0].Status)
}

func TestSubmitPaymentOrder(t *testing.T) {
	s, store, _, pay := newTestSubmitter(t)
	ctx := context.Background()

	result, err := s.SubmitPaymentOrder(ctx, "user-1", decimal.NewFromInt(39), "", map[string]string{"plan": "pro"})
	require.NoError(t, err)

	job := result.Job
	assert.Equal(t, domain.KindPaymentOrder, job.Kind)
	assert.Equal(t, domain.StatusCreated, job.Status)
	assert.Equal(t, "order_1", job.CorrelationID)

	var order map[string]any
	require.NoError(t, json.Unmarshal(result.ProviderOrder, &order))
	assert.Equal(t, "order_1", order["id"])
	assert.Equal(t, float64(3900), order["amount"])

	require.Len(t, pay.calls, 1)
	assert.Equal(t, "INR", pay.calls[0].Currency)
	assert.NotEmpty(t, pay.calls[0].Receipt)

	stored, err := store.FindByCorrelation(ctx, domain.KindPaymentOrder, "order_1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, "39", stored.Metadata[MetaAmount])
	assert.Equal(t, "INR", stored.Metadata[MetaCurrency])
	assert.Equal(t, pay.calls[0].Receipt, stored.Metadata[MetaReceipt])
	assert.Equal(t, "pro", stored.Metadata[MetaNotesPfx+"plan"])
}

func TestSubmitPaymentOrder_GatewayReportsPaid(t *testing.T) {
	s, _, _, pay := newTestSubmitter(t)
	pay.status = "paid"

	result, err := s.SubmitPaymentOrder(context.Background(), "user-1", decimal.NewFromInt(9), "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, result.Job.Status)
	assert.Equal(t, result.Job.CorrelationID, result.Job.ResultRef)
}

func TestSubmitPaymentOrder_GatewayPaidPublishesEvent(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		publishErr error
		wantEvents int
	}{
		{name: "paid on creation", status: "paid", wantEvents: 1},
		{name: "created waits for webhook", status: "created", wantEvents: 0},
		{name: "publish failure is tolerated", status: "paid", publishErr: errors.New("broker down"), wantEvents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storagetest.New(t)
			pub := &recordingPublisher{err: tt.publishErr}
			s := New(store, &fakeGeneration{}, &fakeGateway{status: tt.status}, pub, "INR", logger.NewDiscard().Logger)

			result, err := s.SubmitPaymentOrder(context.Background(), "user-1", decimal.NewFromInt(39), "INR", nil)
			require.NoError(t, err)
			require.Len(t, pub.events, tt.wantEvents)
			if tt.wantEvents == 0 {
				return
			}

			event := pub.events[0]
			assert.NotEmpty(t, event.EventID)
			assert.Equal(t, result.Job.ID, event.JobID)
			assert.Equal(t, domain.KindPaymentOrder, event.Kind)
			assert.Equal(t, domain.StatusPaid, event.Status)
			assert.Equal(t, "user-1", event.OwnerID)
			assert.Equal(t, result.Job.CorrelationID, event.CorrelationID)
		})
	}
}

func TestSubmitPaymentOrder_UnexpectedGatewayStatus(t *testing.T) {
	s, _, _, pay := newTestSubmitter(t)
	pay.status = "attempted"

	result, err := s.SubmitPaymentOrder(context.Background(), "user-1", decimal.NewFromInt(9), "INR", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, result.Job.Status)
}

func TestSubmitPaymentOrder_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		amount decimal.Decimal
	}{
		{name: "zero amount", owner: "user-1", amount: decimal.Zero},
		{name: "negative amount", owner: "user-1", amount: decimal.NewFromInt(-5)},
		{name: "sub-unit amount", owner: "user-1", amount: decimal.RequireFromString("0.001")},
		{name: "missing owner", owner: "", amount: decimal.NewFromInt(39)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _, pay := newTestSubmitter(t)

			result, err := s.SubmitPaymentOrder(context.Background(), tt.owner, tt.amount, "INR", nil)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Nil(t, result)
			assert.Empty(t, pay.calls)
			assert.Equal(t, 0, countJobs(t, store))
		})
	}
}

func TestSubmitPaymentOrder_GatewayFailure(t *testing.T) {
	s, store, _, pay := newTestSubmitter(t)
	pay.err = &provider.APIError{Provider: "payment", StatusCode: 400, Body: "bad currency"}

	result, err := s.SubmitPaymentOrder(context.Background(), "user-1", decimal.NewFromInt(39), "XYZ", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, domain.IsRetryable(err))

	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{Kind: domain.KindPaymentOrder, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].FailureReason, "bad currency")
}
