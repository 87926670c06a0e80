package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

const (
	HeaderPaymentRetryable = "X-Payment-Retryable"
	HeaderTransactionRef   = "X-Transaction-Ref"
)

type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// ProcessPayment validates the payment intent, creates the provider
// checkout and relays the provider's response as-is.
func (h *CheckoutHandler) ProcessPayment(c echo.Context) error {
	var req services.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.checkout.Initiate(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPaymentRequest) || errors.Is(err, services.ErrUnknownGateway) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if result.TransactionRef != "" {
		c.Response().Header().Set(HeaderTransactionRef, result.TransactionRef)
	}
	if !result.Success() {
		c.Response().Header().Set(HeaderPaymentRetryable, strconv.FormatBool(result.Retryable()))
	}
	return c.Blob(result.StatusCode, echo.MIMEApplicationJSON, result.Body)
}
