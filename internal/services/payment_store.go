package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

// ErrNotFound is returned by lookups that match no row
var ErrNotFound = errors.New("record not found")

// PaymentStore is the gorm-backed persistence for payments, enrollments and
// the webhook bookkeeping tables. Idempotency relies on the unique indexes
// created by AutoMigrate, not on checks made here.
type PaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// CreatePayment inserts the payment unless a row with the same
// transaction_ref exists. It reports whether a new row was written.
func (s *PaymentStore) CreatePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_ref"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return false, fmt.Errorf("insert payment %s: %w", payment.TransactionRef, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CreateEnrollment inserts the enrollment unless the (course_id, student_id)
// pair is already enrolled. It reports whether a new row was written.
func (s *PaymentStore) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "course_id"}, {Name: "student_id"}},
			DoNothing: true,
		}).
		Create(enrollment)
	if res.Error != nil {
		return false, fmt.Errorf("insert enrollment %s/%s: %w", enrollment.CourseID, enrollment.StudentID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PaymentByRef loads a payment by the provider's transaction reference
func (s *PaymentStore) PaymentByRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// PaymentsByCourse returns every payment for a course, newest first
func (s *PaymentStore) PaymentsByCourse(ctx context.Context, courseID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("paid_at desc").
		Find(&payments).Error
	return payments, err
}

// PaymentsByTutor returns the payments made for any course owned by the
// tutor, newest first. An empty status matches every status.
func (s *PaymentStore) PaymentsByTutor(ctx context.Context, tutorID string, status models.PaymentStatus) ([]models.Payment, error) {
	courseIDs := s.db.Model(&models.Course{}).Select("id").Where("tutor_id = ?", tutorID)

	query := s.db.WithContext(ctx).Where("course_id IN (?)", courseIDs)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var payments []models.Payment
	err := query.Order("paid_at desc").Find(&payments).Error
	return payments, err
}

// CoursesByTutor returns the tutor's course set
func (s *PaymentStore) CoursesByTutor(ctx context.Context, tutorID string) ([]models.Course, error) {
	var courses []models.Course
	err := s.db.WithContext(ctx).Where("tutor_id = ?", tutorID).Order("title").Find(&courses).Error
	return courses, err
}

// CourseByID loads a single course
func (s *PaymentStore) CourseByID(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &course, nil
}

// RecordCallback appends a row to the webhook delivery log
func (s *PaymentStore) RecordCallback(ctx context.Context, history *models.PaymentCallbackHistory) error {
	return s.db.WithContext(ctx).Create(history).Error
}

// PruneCallbackHistory soft-deletes delivery log rows created before the cutoff
func (s *PaymentStore) PruneCallbackHistory(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.PaymentCallbackHistory{})
	return res.RowsAffected, res.Error
}

// RecordEnrollmentFailure dead-letters an enrollment that could not be
// written. A second failure for the same transaction keeps the first row.
func (s *PaymentStore) RecordEnrollmentFailure(ctx context.Context, failure *models.EnrollmentFailure) error {
	if failure.Status == "" {
		failure.Status = models.EnrollmentFailureStatusPending
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_ref"}},
			DoNothing: true,
		}).
		Create(failure).Error
}

// EnrollmentFailures lists dead-letter rows, optionally filtered by status
func (s *PaymentStore) EnrollmentFailures(ctx context.Context, status models.EnrollmentFailureStatus, limit int) ([]models.EnrollmentFailure, error) {
	query := s.db.WithContext(ctx).Order("id")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var failures []models.EnrollmentFailure
	err := query.Find(&failures).Error
	return failures, err
}

// ResolveEnrollmentFailure marks the dead-letter row for a transaction as
// resolved, if one exists.
func (s *PaymentStore) ResolveEnrollmentFailure(ctx context.Context, ref string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.EnrollmentFailure{}).
		Where("transaction_ref = ? AND status <> ?", ref, models.EnrollmentFailureStatusResolved).
		Updates(map[string]interface{}{
			"status":      models.EnrollmentFailureStatusResolved,
			"resolved_at": at,
		}).Error
}

// MarkEnrollmentAttempt records a failed retry of a dead-letter row
func (s *PaymentStore) MarkEnrollmentAttempt(ctx context.Context, failure *models.EnrollmentFailure, reason string, exhausted bool, at time.Time) error {
	status := models.EnrollmentFailureStatusPending
	if exhausted {
		status = models.EnrollmentFailureStatusExhausted
	}

	failure.Attempts++
	failure.Reason = reason
	failure.Status = status
	failure.LastAttemptAt = &at

	return s.db.WithContext(ctx).
		Model(&models.EnrollmentFailure{}).
		Where("id = ?", failure.ID).
		Updates(map[string]interface{}{
			"attempts":        failure.Attempts,
			"reason":          reason,
			"status":          status,
			"last_attempt_at": at,
		}).Error
}

// OrphanedPayments finds completed course payments that have neither an
// enrollment nor a dead-letter row, e.g. when the dead-letter write itself
// failed.
func (s *PaymentStore) OrphanedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("payments.*").
		Joins("LEFT JOIN enrollments ON enrollments.course_id = payments.course_id AND enrollments.student_id = payments.user_id").
		Joins("LEFT JOIN enrollment_failures ON enrollment_failures.transaction_ref = payments.transaction_ref").
		Where("payments.status = ?", models.PaymentStatusCompleted).
		Where("payments.course_id IS NOT NULL AND payments.user_id IS NOT NULL").
		Where("enrollments.id IS NULL AND enrollment_failures.id IS NULL").
		Order("payments.id").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
