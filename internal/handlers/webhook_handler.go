package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

const (
	HeaderIntaSendSignature = "X-IntaSend-Signature"
	maxWebhookBodyBytes     = 64 << 10
)

type WebhookResponse struct {
	Success bool `json:"success"`
}

type WebhookHandler struct {
	processor         *services.WebhookProcessor
	intaSendSecret    string
	midtransServerKey string
}

func NewWebhookHandler(processor *services.WebhookProcessor, intaSendSecret, midtransServerKey string) *WebhookHandler {
	return &WebhookHandler{
		processor:         processor,
		intaSendSecret:    intaSendSecret,
		midtransServerKey: midtransServerKey,
	}
}

// IntaSend receives IntaSend collection events. A delivery is authentic when
// X-IntaSend-Signature carries the HMAC of the raw body, or when the body's
// challenge matches the configured secret.
func (h *WebhookHandler) IntaSend(c echo.Context) error {
	raw, err := readWebhookBody(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	hook, decodeErr := services.DecodeIntaSendWebhook(raw)

	authentic := services.VerifySignature(raw, c.Request().Header.Get(HeaderIntaSendSignature), h.intaSendSecret)
	if !authentic && decodeErr == nil {
		authentic = services.VerifyChallenge(hook.Challenge, h.intaSendSecret)
	}
	if !authentic {
		ref := ""
		if hook != nil {
			ref = hook.TransactionRef()
		}
		h.processor.Reject(ctx, models.PaymentGatewayIntaSend, ref, services.ErrInvalidSignature.Error())
		return echo.NewHTTPError(http.StatusUnauthorized, services.ErrInvalidSignature.Error())
	}

	if decodeErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, decodeErr.Error())
	}
	n, err := hook.Notification(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return h.process(c, n)
}

// Midtrans receives Midtrans HTTP notifications, authenticated by their
// signature_key.
func (h *WebhookHandler) Midtrans(c echo.Context) error {
	raw, err := readWebhookBody(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	m, err := services.DecodeMidtransNotification(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !m.Verify(h.midtransServerKey) {
		h.processor.Reject(ctx, models.PaymentGatewayMidtrans, m.OrderID, services.ErrInvalidSignature.Error())
		return echo.NewHTTPError(http.StatusUnauthorized, services.ErrInvalidSignature.Error())
	}

	n, err := m.Notification(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return h.process(c, n)
}

func (h *WebhookHandler) process(c echo.Context, n services.Notification) error {
	if _, err := h.processor.Process(c.Request().Context(), n); err != nil {
		// provider retries on 5xx
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, WebhookResponse{Success: true})
}

func readWebhookBody(c echo.Context) ([]byte, error) {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook body too large")
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "could not read webhook body")
	}
	return raw, nil
}
