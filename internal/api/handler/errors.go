package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/roomflow/internal/api/dto"
	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/provider"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto the small set of status codes the API
// uses. Internal details are logged, never returned.
func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var apiErr *provider.APIError

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid signature"})
	case errors.Is(err, domain.ErrUnknownStyle):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown style"})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	case domain.IsRetryable(err):
		logger.Warn("Transient failure", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "temporarily unavailable, please retry", Retryable: true})
	case errors.As(err, &apiErr):
		logger.Error("Provider rejected request", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "provider rejected the request"})
	default:
		logger.Error("Request failed", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}
