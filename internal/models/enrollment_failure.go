package models

import "time"

type EnrollmentFailureStatus string

const (
	EnrollmentFailureStatusPending   EnrollmentFailureStatus = "pending"
	EnrollmentFailureStatusResolved  EnrollmentFailureStatus = "resolved"
	EnrollmentFailureStatusExhausted EnrollmentFailureStatus = "exhausted"
)

// EnrollmentFailure is the dead-letter record for a completed payment whose
// enrollment could not be written. The reconcile_enrollments task retries
// pending rows; exhausted rows are left for manual support.
type EnrollmentFailure struct {
	ID             uint                    `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	TransactionRef string                  `gorm:"type:varchar(100);not null;uniqueIndex" json:"transaction_ref"`
	CourseID       string                  `gorm:"type:varchar(64);not null" json:"course_id"`
	StudentID      *string                 `gorm:"type:varchar(64)" json:"student_id"`
	Reason         string                  `gorm:"type:text" json:"reason"`
	Attempts       int                     `gorm:"default:0" json:"attempts"`
	Status         EnrollmentFailureStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	LastAttemptAt  *time.Time              `json:"last_attempt_at"`
	ResolvedAt     *time.Time              `json:"resolved_at"`
}
