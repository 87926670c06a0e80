package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/middleware"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

// Dependencies are the services the HTTP API is built from. Midtrans routes
// are only mounted when MidtransServerKey is set.
type Dependencies struct {
	Checkout          *services.CheckoutService
	Webhooks          *services.WebhookProcessor
	Store             *services.PaymentStore
	Earnings          *services.EarningsService
	Verifier          middleware.TokenVerifier
	IntaSendSecret    string
	MidtransServerKey string
}

func RegisterRoutes(e *echo.Echo, deps Dependencies) {
	if e.Validator == nil {
		e.Validator = NewRequestValidator()
	}

	checkoutHandler := NewCheckoutHandler(deps.Checkout)
	webhookHandler := NewWebhookHandler(deps.Webhooks, deps.IntaSendSecret, deps.MidtransServerKey)
	reportsHandler := NewReportsHandler(deps.Store, deps.Earnings)
	authHandler := NewAuthHandler()

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Checkout initiator
	e.POST("/functions/v1/process-payment", checkoutHandler.ProcessPayment)
	e.POST("/api/process-payment", checkoutHandler.ProcessPayment)

	// Provider webhooks
	e.POST("/functions/v1/payment-webhook", webhookHandler.IntaSend)
	e.POST("/webhooks/intasend", webhookHandler.IntaSend)
	if deps.MidtransServerKey != "" {
		e.POST("/webhooks/midtrans", webhookHandler.Midtrans)
	}

	// Read APIs
	api := e.Group("/api")
	api.Use(middleware.RequireAuth(deps.Verifier))
	api.GET("/me", authHandler.Me)
	api.GET("/courses/:id/payments", reportsHandler.CoursePayments)
	api.GET("/tutors/:id/payments", reportsHandler.TutorPayments)
	api.GET("/tutors/:id/earnings", reportsHandler.TutorEarnings)
	api.GET("/tutors/:id/earnings/export", reportsHandler.ExportTutorPayments)
	api.GET("/reconciliation/failures", reportsHandler.EnrollmentFailures, middleware.RequireAdmin)
}
