package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/shopspring/decimal"
)

const (
	ordersPath     = "/v1/orders"
	paymentService = "payment"
	receiptPrefix  = "rcpt_"
)

var minorUnits = decimal.NewFromInt(100)

// PaymentConfig configures the payment gateway client.
type PaymentConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// OrderRequest describes an order to open with the gateway. Amount is in
// major currency units.
type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the gateway's order object. Raw holds the body exactly as returned.
type Order struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Raw      json.RawMessage `json:"-"`
}

// PaymentGateway opens payment orders.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// Payment is the HTTP client for a Razorpay-compatible orders API.
type Payment struct {
	cfg       PaymentConfig
	transport *transport
}

// NewPayment builds a payment gateway client.
func NewPayment(cfg PaymentConfig, breaker BreakerConfig, httpClient *http.Client, logger *slog.Logger) *Payment {
	return &Payment{
		cfg: cfg,
		transport: &transport{
			name:    paymentService,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			client:  httpClient,
			timeout: cfg.Timeout,
			breaker: newBreaker(paymentService, breaker, logger),
			logger:  logger,
		},
	}
}

// MinorUnits converts a major-unit amount to the gateway's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

// NewReceipt returns a fresh receipt identifier.
func NewReceipt() (string, error) {
	id, err := gonanoid.New(20)
	if err != nil {
		return "", fmt.Errorf("generate receipt: %w", err)
	}
	return receiptPrefix + id, nil
}

// CreateOrder opens an order for req.
func (p *Payment) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	receipt := req.Receipt
	if receipt == "" {
		var err error
		if receipt, err = NewReceipt(); err != nil {
			return nil, err
		}
	}

	notes := req.Notes
	if notes == nil {
		notes = map[string]string{}
	}

	body := orderRequest{
		Amount:   MinorUnits(req.Amount),
		Currency: req.Currency,
		Receipt:  receipt,
		Notes:    notes,
	}

	var order Order
	raw, err := p.transport.postJSON(ctx, ordersPath, body, &order, p.authorize)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("create order: response missing id")
	}
	order.Raw = json.RawMessage(raw)

	return &order, nil
}

func (p *Payment) authorize(req *http.Request) {
	req.SetBasicAuth(p.cfg.KeyID, p.cfg.KeySecret)
}
