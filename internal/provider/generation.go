package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	guidanceScale     = 7
	negativePrompt    = "blurry, bad quality, distorted, deformed"
	inferenceSteps    = 20
	predictionsPath   = "/v1/predictions"
	generationService = "generation"
)

// GenerationConfig configures the image-generation client.
type GenerationConfig struct {
	BaseURL      string
	APIToken     string
	ModelVersion string
	WebhookURL   string
	EventsFilter []string
	Timeout      time.Duration
}

// GenerationRequest describes one redesign to run.
type GenerationRequest struct {
	ImageURL string
	Prompt   string
}

// Prediction is the provider's acknowledgement of an accepted request.
type Prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GenerationClient submits image-generation work.
type GenerationClient interface {
	CreatePrediction(ctx context.Context, req GenerationRequest) (*Prediction, error)
}

type predictionInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NegativePrompt    string  `json:"negative_prompt"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type predictionRequest struct {
	Version             string          `json:"version"`
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

// Generation is the HTTP client for a Replicate-compatible predictions API.
type Generation struct {
	cfg       GenerationConfig
	transport *transport
}

// NewGeneration builds a generation client.
func NewGeneration(cfg GenerationConfig, breaker BreakerConfig, httpClient *http.Client, logger *slog.Logger) *Generation {
	return &Generation{
		cfg: cfg,
		transport: &transport{
			name:    generationService,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			client:  httpClient,
			timeout: cfg.Timeout,
			breaker: newBreaker(generationService, breaker, logger),
			logger:  logger,
		},
	}
}

// CreatePrediction submits req and returns the provider's prediction id.
func (g *Generation) CreatePrediction(ctx context.Context, req GenerationRequest) (*Prediction, error) {
	body := predictionRequest{
		Version: g.cfg.ModelVersion,
		Input: predictionInput{
			Image:             req.ImageURL,
			Prompt:            req.Prompt,
			GuidanceScale:     guidanceScale,
			NegativePrompt:    negativePrompt,
			NumInferenceSteps: inferenceSteps,
		},
		Webhook:             g.cfg.WebhookURL,
		WebhookEventsFilter: g.cfg.EventsFilter,
	}

	var prediction Prediction
	if _, err := g.transport.postJSON(ctx, predictionsPath, body, &prediction, g.authorize); err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}
	if prediction.ID == "" {
		return nil, fmt.Errorf("create prediction: response missing id")
	}

	return &prediction, nil
}

func (g *Generation) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIToken)
}
