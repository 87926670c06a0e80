package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is a provider-confirmed payment. Rows are written once by the
// webhook receiver and never updated afterwards.
type Payment struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	TransactionRef string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"transaction_ref"`
	Amount         decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(3)" json:"currency"`
	Status         PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	CourseID       *string         `gorm:"type:varchar(64);index" json:"course_id"`
	UserID         *string         `gorm:"type:varchar(64);index" json:"user_id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50)" json:"payment_gateway"`
	PaidAt         time.Time       `json:"paid_at"`
	CreatedAt      time.Time       `json:"created_at"`
}
