package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/config"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

// MidtransService creates Snap checkouts. The course id rides in
// custom_field1 and the student id in custom_field2; Midtrans returns both
// on the payment notification.
type MidtransService struct {
	SnapClient snap.Client
	serverKey  string
}

func NewMidtransService(cfg config.MidtransConfig, timeout time.Duration) *MidtransService {
	env := midtrans.Sandbox
	if cfg.IsProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(cfg.ServerKey, env)
	s.HttpClient = &midtrans.HttpClientImplementation{
		HttpClient: &http.Client{Timeout: timeout},
		Logger:     midtrans.GetDefaultLogger(env),
	}

	return &MidtransService{SnapClient: s, serverKey: cfg.ServerKey}
}

func (s *MidtransService) Gateway() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// ServerKey is the key notifications are signed with
func (s *MidtransService) ServerKey() string {
	return s.serverKey
}

// NewOrderID mints the order id Midtrans reports back as the transaction ref
func NewOrderID() string {
	return "course-" + uuid.NewString()
}

// CreateCheckout creates a Snap transaction and returns its token and
// redirect URL as the checkout body.
func (s *MidtransService) CreateCheckout(ctx context.Context, req PaymentRequest) (*CheckoutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orderID := NewOrderID()
	param := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount.IntPart(),
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.FirstName,
			LName: req.LastName,
			Email: req.Email,
			Phone: req.PhoneNumber,
		},
		CustomField1: req.CourseID,
		CustomField2: req.StudentID,
	}

	resp, mErr := s.SnapClient.CreateTransaction(param)
	if mErr != nil {
		if mErr.StatusCode == 0 {
			return nil, fmt.Errorf("midtrans create transaction error: %s", mErr.Message)
		}
		body, _ := json.Marshal(map[string]interface{}{
			"status_code":    mErr.StatusCode,
			"error_messages": []string{mErr.Message},
		})
		return &CheckoutResult{
			Gateway:        models.PaymentGatewayMidtrans,
			StatusCode:     mErr.StatusCode,
			Body:           body,
			TransactionRef: orderID,
		}, nil
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode midtrans response: %w", err)
	}
	return &CheckoutResult{
		Gateway:        models.PaymentGatewayMidtrans,
		StatusCode:     http.StatusCreated,
		Body:           body,
		TransactionRef: orderID,
	}, nil
}
