package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

// IntaSendStateComplete is the only state that records a payment
const IntaSendStateComplete = "COMPLETE"

// IntaSendWebhook is the collection event IntaSend posts to the webhook.
// Older payloads carry invoice_id and state at the top level instead of
// inside invoice.
type IntaSendWebhook struct {
	Invoice struct {
		InvoiceID string      `json:"invoice_id"`
		State     string      `json:"state"`
		Value     interface{} `json:"value"`
		Currency  string      `json:"currency"`
	} `json:"invoice"`
	InvoiceID    string          `json:"invoice_id"`
	State        string          `json:"state"`
	Value        interface{}     `json:"value"`
	Currency     string          `json:"currency"`
	Challenge    string          `json:"challenge"`
	CustomerData json.RawMessage `json:"customer_data"`
	Account      json.RawMessage `json:"account"`
}

// DecodeIntaSendWebhook decodes the raw body. Numbers are kept as
// json.Number so amounts survive without float rounding.
func DecodeIntaSendWebhook(raw []byte) (*IntaSendWebhook, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var hook IntaSendWebhook
	if err := dec.Decode(&hook); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return &hook, nil
}

// TransactionRef is the invoice id, the only correlation key IntaSend offers
func (w *IntaSendWebhook) TransactionRef() string {
	if w.Invoice.InvoiceID != "" {
		return strings.TrimSpace(w.Invoice.InvoiceID)
	}
	return strings.TrimSpace(w.InvoiceID)
}

// Notification maps the webhook to the receiver's notification. The amount
// is only required for a complete payment.
func (w *IntaSendWebhook) Notification(raw []byte) (Notification, error) {
	n := Notification{
		Gateway:        models.PaymentGatewayIntaSend,
		TransactionRef: w.TransactionRef(),
		State:          firstNonEmpty(w.State, w.Invoice.State),
		Currency:       strings.ToUpper(firstNonEmpty(w.Currency, w.Invoice.Currency, DefaultCurrency)),
		Raw:            raw,
	}
	if n.TransactionRef == "" {
		return n, fmt.Errorf("%w: missing invoice id", ErrMalformedNotification)
	}
	n.Completed = strings.EqualFold(strings.TrimSpace(n.State), IntaSendStateComplete)

	customer := decodeObject(w.CustomerData)
	n.CourseID = strings.TrimSpace(cast.ToString(customer["course_id"]))
	n.PayerID = strings.TrimSpace(cast.ToString(decodeObject(w.Account)["customer_id"]))
	if n.PayerID == "" {
		n.PayerID = strings.TrimSpace(cast.ToString(customer["student_id"]))
	}

	value := w.Value
	if value == nil {
		value = w.Invoice.Value
	}
	amount, err := parseAmount(value)
	if err != nil {
		if n.Completed {
			return n, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		return n, nil
	}
	n.Amount = amount
	return n, nil
}

// parseAmount accepts a JSON number or a numeric string
func parseAmount(value interface{}) (decimal.Decimal, error) {
	if value == nil {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %v", err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", s)
	}
	return amount, nil
}

// decodeObject returns the fields of a JSON object, or nil for anything else
func decodeObject(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
