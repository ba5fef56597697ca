package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/shared/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Factory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewFactory(Config{
		Generation: GenerationConfig{
			BaseURL:      srv.URL + "/",
			APIToken:     "r8_token",
			ModelVersion: "model-v1",
			WebhookURL:   "https://roomflow.example.com/api/v1/webhooks/generation",
			EventsFilter: []string{"completed"},
			Timeout:      timeout,
		},
		Payment: PaymentConfig{
			BaseURL:   srv.URL,
			KeyID:     "rzp_key",
			KeySecret: "rzp_secret",
			Timeout:   timeout,
		},
		Breaker: BreakerConfig{MinRequests: 3, FailureRatio: 0.6, Timeout: time.Minute},
	}, srv.Client(), logger.NewDiscard().Logger)
}

func TestGeneration_CreatePrediction(t *testing.T) {
	var got map[string]any
	factory := newTestFactory(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"pred_123","status":"starting"}`)
	}, time.Second)

	prediction, err := factory.Generation().CreatePrediction(context.Background(), GenerationRequest{
		ImageURL: "https://cdn.example.com/room.jpg",
		Prompt:   "modern room",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred_123", prediction.ID)
	assert.Equal(t, "starting", prediction.Status)

	assert.Equal(t, "model-v1", got["version"])
	assert.Equal(t, "https://roomflow.example.com/api/v1/webhooks/generation", got["webhook"])
	assert.Equal(t, []any{"completed"}, got["webhook_events_filter"])
	input := got["input"].(map[string]any)
	assert.Equal(t, "https://cdn.example.com/room.jpg", input["image"])
	assert.Equal(t, "modern room", input["prompt"])
	assert.Equal(t, float64(7), input["guidance_scale"])
	assert.Equal(t, "blurry, bad quality, distorted, deformed", input["negative_prompt"])
	assert.Equal(t, float64(20), input["num_inference_steps"])
}

func TestGeneration_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
				assert.True(t, domain.IsRetryable(err))
			},
		},
		{
			name: "rate limited is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
			},
		},
		{
			name: "rejection is an api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				io.WriteString(w, `{"detail":"invalid version"}`)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "invalid version")
				assert.False(t, domain.IsRetryable(err))
			},
		},
		{
			name: "slow provider times out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			timeout: 20 * time.Millisecond,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrTimeout)
				assert.NotErrorIs(t, err, domain.ErrProviderUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"id":`)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
			},
		},
		{
			name: "missing id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"status":"starting"}`)
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "missing id")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			factory := newTestFactory(t, tt.handler, timeout)

			_, err := factory.Generation().CreatePrediction(context.Background(), GenerationRequest{ImageURL: "u", Prompt: "p"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestGeneration_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	factory := newTestFactory(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second)

	for i := 0; i < 5; i++ {
		_, err := factory.Generation().CreatePrediction(context.Background(), GenerationRequest{ImageURL: "u", Prompt: "p"})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}

	// trips after three failures; later calls never reach the server
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeneration_RejectionsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	factory := newTestFactory(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, time.Second)

	for i := 0; i < 5; i++ {
		_, err := factory.Generation().CreatePrediction(context.Background(), GenerationRequest{ImageURL: "u", Prompt: "p"})
		var apiErr *APIError
		assert.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestPayment_CreateOrder(t *testing.T) {
	var got orderRequest
	factory := newTestFactory(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		io.WriteString(w, `{"id":"order_abc","entity":"order","amount":3900,"currency":"INR","receipt":"`+got.Receipt+`","status":"created","attempts":0}`)
	}, time.Second)

	order, err := factory.Payment().CreateOrder(context.Background(), OrderRequest{
		Amount:   decimal.NewFromInt(39),
		Currency: "INR",
		Notes:    map[string]string{"plan": "pro"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3900), got.Amount)
	assert.Equal(t, "INR", got.Currency)
	assert.True(t, strings.HasPrefix(got.Receipt, "rcpt_"))
	assert.Equal(t, map[string]string{"plan": "pro"}, got.Notes)

	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, "created", order.Status)
	assert.Equal(t, int64(3900), order.Amount)
	assert.Contains(t, string(order.Raw), `"entity":"order"`)
}

func TestPayment_EmptyNotesSentAsObject(t *testing.T) {
	var raw map[string]json.RawMessage
	factory := newTestFactory(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		io.WriteString(w, `{"id":"order_1","status":"created"}`)
	}, time.Second)

	_, err := factory.Payment().CreateOrder(context.Background(), OrderRequest{
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "INR",
		Receipt:  "rcpt_fixed",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw["notes"]))
	assert.JSONEq(t, `999`, string(raw["amount"]))
	assert.JSONEq(t, `"rcpt_fixed"`, string(raw["receipt"]))
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"39", 3900},
		{"9.99", 999},
		{"0.015", 2},
		{"69.004", 6900},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, MinorUnits(decimal.RequireFromString(tt.amount)))
		})
	}
}
