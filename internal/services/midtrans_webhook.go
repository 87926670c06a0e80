package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

const defaultMidtransCurrency = "IDR"

// MidtransNotification is the HTTP notification Midtrans posts after a
// transaction changes status.
type MidtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

func DecodeMidtransNotification(raw []byte) (*MidtransNotification, error) {
	var n MidtransNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return &n, nil
}

// Verify checks signature_key against the server key
func (m *MidtransNotification) Verify(serverKey string) bool {
	return VerifyMidtransSignature(m.OrderID, m.StatusCode, m.GrossAmount, serverKey, m.SignatureKey)
}

// Completed reports whether the money is captured for good: a settlement,
// or a card capture the fraud screen accepted.
func (m *MidtransNotification) Completed() bool {
	switch m.TransactionStatus {
	case "settlement":
		return true
	case "capture":
		return m.FraudStatus == "accept"
	}
	return false
}

func (m *MidtransNotification) Notification(raw []byte) (Notification, error) {
	n := Notification{
		Gateway:        models.PaymentGatewayMidtrans,
		TransactionRef: strings.TrimSpace(m.OrderID),
		State:          m.TransactionStatus,
		Completed:      m.Completed(),
		Currency:       strings.ToUpper(firstNonEmpty(m.Currency, defaultMidtransCurrency)),
		CourseID:       strings.TrimSpace(m.CustomField1),
		PayerID:        strings.TrimSpace(m.CustomField2),
		Raw:            raw,
	}
	if n.TransactionRef == "" {
		return n, fmt.Errorf("%w: missing order id", ErrMalformedNotification)
	}
	if m.FraudStatus != "" {
		n.State = m.TransactionStatus + "/" + m.FraudStatus
	}

	amount, err := parseAmount(m.GrossAmount)
	if err != nil {
		if n.Completed {
			return n, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		return n, nil
	}
	n.Amount = amount
	return n, nil
}
