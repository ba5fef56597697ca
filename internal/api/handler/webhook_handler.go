package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/roomflow/internal/api/dto"
	"github.com/cuongbtq/roomflow/internal/webhook"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// GenerationWebhook handles POST /api/v1/webhooks/generation
func (h *WebhookHandler) GenerationWebhook(c *gin.Context) {
	h.handle(c, "generation webhook", webhook.GenerationSignatureHeader, h.ingestor.HandleGeneration)
}

// PaymentWebhook handles POST /api/v1/webhooks/payment
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	h.handle(c, "payment webhook", webhook.PaymentSignatureHeader, h.ingestor.HandlePayment)
}

func (h *WebhookHandler) handle(
	c *gin.Context,
	op string,
	signatureHeader string,
	ingest func(ctx context.Context, rawBody []byte, signature string) (*webhook.Result, error),
) {
	// hash the exact bytes the provider sent
	rawBody, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "unreadable body"})
		return
	}

	result, err := ingest(c.Request.Context(), rawBody, c.GetHeader(signatureHeader))
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, Outcome: string(result.Outcome)})
}
