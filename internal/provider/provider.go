// Package provider holds the HTTP clients for the external image-generation
// provider and payment gateway.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/sony/gobreaker"
)

const maxResponseBytes = 1 << 20

// APIError is a non-retryable rejection reported by a provider (4xx).
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s rejected request with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// BreakerConfig configures the circuit breaker wrapped around a provider.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func newBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 3
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		// a provider rejecting a bad request is healthy
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

// transport performs JSON calls to one provider through its breaker.
type transport struct {
	name    string
	baseURL string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// postJSON sends in as JSON and decodes the response into out. It returns the
// raw response body alongside.
func (t *transport) postJSON(ctx context.Context, path string, in any, out any, authorize func(*http.Request)) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", t.name, err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build %s request: %w", t.name, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		authorize(req)

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", t.name, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%s returned status %d", t.name, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &APIError{Provider: t.name, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		}

		return body, nil
	})
	if err != nil {
		return nil, t.classify(ctx, err)
	}

	body := result.([]byte)
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: malformed %s response: %v", domain.ErrProviderUnavailable, t.name, err)
	}

	return body, nil
}

// classify maps a failed call onto the domain error taxonomy.
func (t *transport) classify(ctx context.Context, err error) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s call exceeded deadline: %w", t.name, domain.ErrTimeout)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%s circuit open: %w", t.name, domain.ErrProviderUnavailable)
	default:
		t.logger.Warn("Provider call failed",
			slog.String("provider", t.name),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
