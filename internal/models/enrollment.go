package models

import "time"

// Enrollment links a student to a course. At most one row exists per
// (course_id, student_id); the unique index enforces it across processes.
type Enrollment struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CourseID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_enrollments_course_student,priority:1" json:"course_id"`
	StudentID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_enrollments_course_student,priority:2;index" json:"student_id"`
	PaymentRef string    `gorm:"type:varchar(100)" json:"payment_ref"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
