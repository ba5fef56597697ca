package router

import (
	"github.com/cuongbtq/roomflow/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)

	// GET /health - database and broker status
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/styles - Redesign styles accepted by submissions
		v1.GET("/styles", jobHandler.ListStyles)

		// POST /api/v1/transformations - Submit a room redesign
		v1.POST("/transformations", jobHandler.SubmitTransformation)

		// POST /api/v1/payments/orders - Open a payment order
		v1.POST("/payments/orders", jobHandler.SubmitPaymentOrder)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List an owner's jobs with pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Job status, optionally waiting for completion
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/credits/:owner_id - Credit balance
		v1.GET("/credits/:owner_id", jobHandler.GetCredits)

		webhooks := v1.Group("/webhooks")
		{
			// POST /api/v1/webhooks/generation - Image-generation provider callbacks
			webhooks.POST("/generation", webhookHandler.GenerationWebhook)

			// POST /api/v1/webhooks/payment - Payment gateway callbacks
			webhooks.POST("/payment", webhookHandler.PaymentWebhook)
		}
	}

	return r
}
