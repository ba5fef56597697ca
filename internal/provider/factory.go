package provider

import (
	"log/slog"
	"net/http"
)

// Config holds everything needed to build the provider clients.
type Config struct {
	Generation GenerationConfig
	Payment    PaymentConfig
	Breaker    BreakerConfig
}

// Factory builds the provider clients once from process configuration and
// hands out the shared instances.
type Factory struct {
	generation *Generation
	payment    *Payment
}

// NewFactory builds the provider clients. httpClient may be nil.
func NewFactory(cfg Config, httpClient *http.Client, logger *slog.Logger) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Factory{
		generation: NewGeneration(cfg.Generation, cfg.Breaker, httpClient, logger),
		payment:    NewPayment(cfg.Payment, cfg.Breaker, httpClient, logger),
	}
}

// Generation returns the shared generation client.
func (f *Factory) Generation() GenerationClient {
	return f.generation
}

// Payment returns the shared payment gateway client.
func (f *Factory) Payment() PaymentGateway {
	return f.payment
}
