package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is the read model of a course owned by a tutor. Only the fields the
// earnings reports need are mapped.
type Course struct {
	ID          string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(255)" json:"title"`
	TutorID     string          `gorm:"type:varchar(64);index" json:"tutor_id"`
	Price       decimal.Decimal `gorm:"type:numeric(15,2)" json:"price"`
	IsPublished bool            `gorm:"default:false" json:"is_published"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
