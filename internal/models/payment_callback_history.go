package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayIntaSend PaymentGateway = "intasend"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
)

// CallbackOutcome describes what the webhook receiver did with a delivery
type CallbackOutcome string

const (
	CallbackOutcomeIgnored   CallbackOutcome = "ignored"   // non-complete state, no write
	CallbackOutcomeRecorded  CallbackOutcome = "recorded"  // payment row created
	CallbackOutcomeDuplicate CallbackOutcome = "duplicate" // payment row already existed
	CallbackOutcomeRejected  CallbackOutcome = "rejected"  // failed authenticity check
	CallbackOutcomeFailed    CallbackOutcome = "failed"    // payment write failed, provider will retry
)

// PaymentCallbackHistory keeps one row per webhook delivery, including the
// ones that were ignored or rejected.
type PaymentCallbackHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	TransactionRef string          `gorm:"type:varchar(100);index" json:"transaction_ref"`
	State          string          `gorm:"type:varchar(50)" json:"state"`
	SignatureValid bool            `gorm:"default:false" json:"signature_valid"`
	Outcome        CallbackOutcome `gorm:"type:varchar(20);index" json:"outcome"`
	Error          string          `gorm:"type:text" json:"error,omitempty"`
	Metadata       datatypes.JSON  `json:"metadata"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}
