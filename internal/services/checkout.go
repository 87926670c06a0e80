package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

const DefaultCurrency = "KES"

var (
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	ErrUnknownGateway        = errors.New("unknown payment gateway")
)

// PaymentRequest is the client's checkout intent. It is consumed once by the
// checkout service and never stored.
type PaymentRequest struct {
	Amount      decimal.Decimal       `json:"amount"`
	Currency    string                `json:"currency" validate:"omitempty,len=3,alpha"`
	Email       string                `json:"email" validate:"required,email"`
	PhoneNumber string                `json:"phoneNumber" validate:"required"`
	FirstName   string                `json:"firstName" validate:"max=100"`
	LastName    string                `json:"lastName" validate:"max=100"`
	CourseID    string                `json:"courseId" validate:"max=64"`
	StudentID   string                `json:"studentId" validate:"max=128"`
	Gateway     models.PaymentGateway `json:"gateway"`
}

// CheckoutResult is the provider's answer, relayed to the client as-is
type CheckoutResult struct {
	Gateway        models.PaymentGateway
	StatusCode     int
	Body           json.RawMessage
	TransactionRef string
}

// Success reports whether the provider accepted the checkout
func (r *CheckoutResult) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable reports whether a failed checkout is worth retrying unchanged
func (r *CheckoutResult) Retryable() bool {
	return r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests
}

// CheckoutProvider creates a checkout session at a payment provider.
// Implementations return an error only when no provider response was
// obtained; non-2xx provider responses come back as a CheckoutResult.
type CheckoutProvider interface {
	Gateway() models.PaymentGateway
	CreateCheckout(ctx context.Context, req PaymentRequest) (*CheckoutResult, error)
}

// CheckoutService validates payment intents and dispatches them to the
// configured provider.
type CheckoutService struct {
	providers      map[models.PaymentGateway]CheckoutProvider
	defaultGateway models.PaymentGateway
}

// NewCheckoutService registers the providers; the first one is the default
func NewCheckoutService(providers ...CheckoutProvider) *CheckoutService {
	s := &CheckoutService{providers: make(map[models.PaymentGateway]CheckoutProvider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if s.defaultGateway == "" {
			s.defaultGateway = p.Gateway()
		}
		s.providers[p.Gateway()] = p
	}
	return s
}

// Gateways lists the registered gateways
func (s *CheckoutService) Gateways() []models.PaymentGateway {
	out := make([]models.PaymentGateway, 0, len(s.providers))
	for g := range s.providers {
		out = append(out, g)
	}
	return out
}

// Initiate normalizes the request and issues exactly one provider call
func (s *CheckoutService) Initiate(ctx context.Context, req PaymentRequest) (*CheckoutResult, error) {
	normalized, err := NormalizePaymentRequest(req)
	if err != nil {
		return nil, err
	}

	gateway := normalized.Gateway
	if gateway == "" {
		gateway = s.defaultGateway
	}
	provider, ok := s.providers[gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, gateway)
	}
	normalized.Gateway = gateway

	log.Printf("INFO: Initiating %s checkout of %s %s for course %q", gateway, normalized.Amount.StringFixed(2), normalized.Currency, normalized.CourseID)

	result, err := provider.CreateCheckout(ctx, normalized)
	if err != nil {
		log.Printf("ERROR: %s checkout failed: %v", gateway, err)
		return nil, err
	}

	if !result.Success() {
		log.Printf("WARN: %s checkout rejected with status %d (retryable=%v)", gateway, result.StatusCode, result.Retryable())
	}
	return result, nil
}

// NormalizePaymentRequest checks the fields the provider cannot do without
// and brings amount, currency and phone number into canonical form.
func NormalizePaymentRequest(req PaymentRequest) (PaymentRequest, error) {
	req.Amount = req.Amount.Round(2)
	if !req.Amount.IsPositive() {
		return req, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidPaymentRequest)
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	if !isCurrencyCode(req.Currency) {
		return req, fmt.Errorf("%w: currency must be a 3-letter ISO 4217 code", ErrInvalidPaymentRequest)
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return req, fmt.Errorf("%w: email is required", ErrInvalidPaymentRequest)
	}

	req.PhoneNumber = NormalizePhoneNumber(req.PhoneNumber)
	if !isMSISDN(req.PhoneNumber) {
		return req, fmt.Errorf("%w: a valid phone number is required for mobile money", ErrInvalidPaymentRequest)
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.Gateway = models.PaymentGateway(strings.ToLower(strings.TrimSpace(string(req.Gateway))))
	return req, nil
}

// NormalizePhoneNumber strips formatting and rewrites Kenyan local numbers
// (07xx / 01xx) to the 254 country code M-Pesa expects.
func NormalizePhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	phone = strings.TrimPrefix(phone, "+")

	if strings.HasPrefix(phone, "0") {
		phone = "254" + strings.TrimPrefix(phone, "0")
	}
	return phone
}

func isMSISDN(phone string) bool {
	if len(phone) < 9 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
