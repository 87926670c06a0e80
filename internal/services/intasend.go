package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/config"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

// IntaSendPaymentMethod is the only method offered at checkout
const IntaSendPaymentMethod = "MPESA"

type intaSendCustomerData struct {
	CourseID  string `json:"course_id,omitempty"`
	StudentID string `json:"student_id,omitempty"`
}

// intaSendCheckoutRequest is the body of POST /checkout/
type intaSendCheckoutRequest struct {
	PublicKey     string               `json:"public_key"`
	Amount        json.Number          `json:"amount"`
	Currency      string               `json:"currency"`
	Email         string               `json:"email"`
	PhoneNumber   string               `json:"phone_number"`
	FirstName     string               `json:"first_name"`
	LastName      string               `json:"last_name"`
	PaymentMethod string               `json:"payment_method"`
	CustomerData  intaSendCustomerData `json:"customer_data"`
}

// IntaSendService talks to the IntaSend checkout API
type IntaSendService struct {
	client         *resty.Client
	publishableKey string
}

// NewIntaSendService builds a client bound to the configured API base URL.
// Every call is bounded by timeout in addition to the caller's context.
func NewIntaSendService(cfg config.IntaSendConfig, timeout time.Duration) *IntaSendService {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &IntaSendService{client: client, publishableKey: cfg.PublishableKey}
}

func (s *IntaSendService) Gateway() models.PaymentGateway {
	return models.PaymentGatewayIntaSend
}

// CreateCheckout creates an M-Pesa checkout. The course id travels in
// customer_data, which IntaSend echoes back on the webhook.
func (s *IntaSendService) CreateCheckout(ctx context.Context, req PaymentRequest) (*CheckoutResult, error) {
	body := intaSendCheckoutRequest{
		PublicKey:     s.publishableKey,
		Amount:        json.Number(req.Amount.StringFixed(2)),
		Currency:      req.Currency,
		Email:         req.Email,
		PhoneNumber:   req.PhoneNumber,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PaymentMethod: IntaSendPaymentMethod,
		CustomerData:  intaSendCustomerData{CourseID: req.CourseID, StudentID: req.StudentID},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/checkout/")
	if err != nil {
		return nil, fmt.Errorf("could not connect to payment provider: %w", err)
	}

	raw := resp.Body()
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payment provider returned a non-JSON response (status %d)", resp.StatusCode())
	}

	result := &CheckoutResult{
		Gateway:    models.PaymentGatewayIntaSend,
		StatusCode: resp.StatusCode(),
		Body:       json.RawMessage(raw),
	}

	var ids struct {
		ID        string `json:"id"`
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.Unmarshal(raw, &ids); err == nil {
		result.TransactionRef = ids.InvoiceID
		if result.TransactionRef == "" {
			result.TransactionRef = ids.ID
		}
	}
	return result, nil
}
