package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

var (
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedNotification = errors.New("malformed payment notification")
)

const (
	reasonMissingPayer = "missing payer identifier"

	// matches payment_callback_histories.transaction_ref
	maxRejectedRefLength = 100
)

// Notification is a provider webhook reduced to what the receiver acts on
type Notification struct {
	Gateway        models.PaymentGateway
	TransactionRef string
	State          string
	Completed      bool
	Amount         decimal.Decimal
	Currency       string
	CourseID       string
	PayerID        string
	Raw            json.RawMessage
}

type EnrollmentOutcome string

const (
	EnrollmentSkipped         EnrollmentOutcome = "skipped"
	EnrollmentEnrolled        EnrollmentOutcome = "enrolled"
	EnrollmentAlreadyEnrolled EnrollmentOutcome = "already_enrolled"
	EnrollmentFailed          EnrollmentOutcome = "failed"
)

// EnrollmentResult is the outcome of the enrollment write that follows a
// recorded payment. Reason is set only for EnrollmentFailed.
type EnrollmentResult struct {
	Outcome EnrollmentOutcome `json:"outcome"`
	Reason  string            `json:"reason,omitempty"`
}

// Done reports whether the student ends up enrolled
func (r EnrollmentResult) Done() bool {
	return r.Outcome == EnrollmentEnrolled || r.Outcome == EnrollmentAlreadyEnrolled
}

type WebhookResult struct {
	Outcome    models.CallbackOutcome
	Enrollment EnrollmentResult
}

type WebhookStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) (bool, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	RecordEnrollmentFailure(ctx context.Context, failure *models.EnrollmentFailure) error
	ResolveEnrollmentFailure(ctx context.Context, ref string, at time.Time) error
	RecordCallback(ctx context.Context, history *models.PaymentCallbackHistory) error
}

// EarningsInvalidator drops cached earnings affected by a new payment
type EarningsInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string) error
}

// WebhookProcessor turns authenticated provider notifications into Payment
// and Enrollment rows. Both writes are idempotent at the database level so
// redeliveries and concurrent deliveries of one transaction are absorbed.
type WebhookProcessor struct {
	store       WebhookStore
	events      EventPublisher
	invalidator EarningsInvalidator
	now         func() time.Time
}

func NewWebhookProcessor(store WebhookStore, events EventPublisher, invalidator EarningsInvalidator) *WebhookProcessor {
	if events == nil {
		events = NoopPublisher{}
	}
	return &WebhookProcessor{
		store:       store,
		events:      events,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Process handles one verified notification. An error means the payment
// could not be recorded and the provider should redeliver; enrollment
// problems never surface as an error.
func (p *WebhookProcessor) Process(ctx context.Context, n Notification) (*WebhookResult, error) {
	if !n.Completed {
		log.Printf("INFO: Ignoring %s notification %s in state %q", n.Gateway, n.TransactionRef, n.State)
		p.record(ctx, n, true, models.CallbackOutcomeIgnored, "state "+n.State)
		return &WebhookResult{
			Outcome:    models.CallbackOutcomeIgnored,
			Enrollment: EnrollmentResult{Outcome: EnrollmentSkipped},
		}, nil
	}

	paidAt := p.now()
	payment := &models.Payment{
		TransactionRef: n.TransactionRef,
		Amount:         n.Amount.Round(2),
		Currency:       n.Currency,
		Status:         models.PaymentStatusCompleted,
		CourseID:       optionalString(n.CourseID),
		UserID:         optionalString(n.PayerID),
		PaymentGateway: n.Gateway,
		PaidAt:         paidAt,
	}

	created, err := p.store.CreatePayment(ctx, payment)
	if err != nil {
		log.Printf("ERROR: Failed to record payment %s: %v", n.TransactionRef, err)
		p.record(ctx, n, true, models.CallbackOutcomeFailed, err.Error())
		return nil, err
	}

	result := &WebhookResult{Outcome: models.CallbackOutcomeDuplicate}
	if created {
		result.Outcome = models.CallbackOutcomeRecorded
		log.Printf("INFO: Recorded %s payment %s of %s %s", n.Gateway, n.TransactionRef, payment.Amount.StringFixed(2), n.Currency)
		p.afterPaymentRecorded(ctx, payment)
	} else {
		log.Printf("INFO: Payment %s already recorded, treating delivery as duplicate", n.TransactionRef)
	}

	result.Enrollment = p.Enroll(ctx, n.TransactionRef, n.CourseID, n.PayerID)
	p.settleEnrollment(ctx, n, result.Enrollment)

	p.record(ctx, n, true, result.Outcome, result.Enrollment.Reason)
	return result, nil
}

// Enroll writes the enrollment for a recorded payment
func (p *WebhookProcessor) Enroll(ctx context.Context, transactionRef, courseID, studentID string) EnrollmentResult {
	if courseID == "" {
		return EnrollmentResult{Outcome: EnrollmentSkipped}
	}
	if studentID == "" {
		return EnrollmentResult{Outcome: EnrollmentFailed, Reason: reasonMissingPayer}
	}

	created, err := p.store.CreateEnrollment(ctx, &models.Enrollment{
		CourseID:   courseID,
		StudentID:  studentID,
		PaymentRef: transactionRef,
		EnrolledAt: p.now(),
	})
	if err != nil {
		return EnrollmentResult{Outcome: EnrollmentFailed, Reason: err.Error()}
	}
	if !created {
		return EnrollmentResult{Outcome: EnrollmentAlreadyEnrolled}
	}
	return EnrollmentResult{Outcome: EnrollmentEnrolled}
}

// Reject logs a delivery that failed the authenticity check. The body is
// unauthenticated input, so only the gateway, a bounded ref and the reason
// are kept.
func (p *WebhookProcessor) Reject(ctx context.Context, gateway models.PaymentGateway, transactionRef string, reason string) {
	if len(transactionRef) > maxRejectedRefLength {
		transactionRef = transactionRef[:maxRejectedRefLength]
	}
	log.Printf("WARN: Rejected %s webhook for %q: %s", gateway, transactionRef, reason)
	p.record(ctx, Notification{
		Gateway:        gateway,
		TransactionRef: transactionRef,
	}, false, models.CallbackOutcomeRejected, reason)
}

func (p *WebhookProcessor) settleEnrollment(ctx context.Context, n Notification, result EnrollmentResult) {
	switch {
	case result.Done():
		if err := p.store.ResolveEnrollmentFailure(ctx, n.TransactionRef, p.now()); err != nil {
			log.Printf("WARN: Failed to resolve enrollment failure for %s: %v", n.TransactionRef, err)
		}
	case result.Outcome == EnrollmentFailed:
		log.Printf("ERROR: Payment %s recorded but enrollment in course %s failed: %s", n.TransactionRef, n.CourseID, result.Reason)

		failure := &models.EnrollmentFailure{
			TransactionRef: n.TransactionRef,
			CourseID:       n.CourseID,
			StudentID:      optionalString(n.PayerID),
			Reason:         result.Reason,
		}
		if err := p.store.RecordEnrollmentFailure(ctx, failure); err != nil {
			// the reconcile task sweeps orphaned payments, so this is not lost
			log.Printf("ERROR: Failed to dead-letter enrollment for %s: %v", n.TransactionRef, err)
		}

		p.publish(ctx, Event{
			Type:       EventEnrollmentFailed,
			Key:        n.TransactionRef,
			OccurredAt: p.now(),
			Data: EnrollmentFailedData{
				TransactionRef: n.TransactionRef,
				CourseID:       n.CourseID,
				StudentID:      n.PayerID,
				Reason:         result.Reason,
			},
		})
	}
}

func (p *WebhookProcessor) afterPaymentRecorded(ctx context.Context, payment *models.Payment) {
	data := PaymentCompletedData{
		TransactionRef: payment.TransactionRef,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Gateway:        payment.PaymentGateway,
		PaidAt:         payment.PaidAt,
	}
	if payment.CourseID != nil {
		data.CourseID = *payment.CourseID
	}
	if payment.UserID != nil {
		data.UserID = *payment.UserID
	}

	p.publish(ctx, Event{
		Type:       EventPaymentCompleted,
		Key:        payment.TransactionRef,
		OccurredAt: payment.PaidAt,
		Data:       data,
	})

	if p.invalidator != nil && data.CourseID != "" {
		if err := p.invalidator.InvalidateCourse(ctx, data.CourseID); err != nil {
			log.Printf("WARN: Failed to invalidate earnings cache for course %s: %v", data.CourseID, err)
		}
	}
}

func (p *WebhookProcessor) publish(ctx context.Context, event Event) {
	if err := p.events.Publish(ctx, event); err != nil {
		log.Printf("WARN: Failed to publish %s for %s: %v", event.Type, event.Key, err)
	}
}

func (p *WebhookProcessor) record(ctx context.Context, n Notification, signatureValid bool, outcome models.CallbackOutcome, reason string) {
	history := &models.PaymentCallbackHistory{
		PaymentGateway: n.Gateway,
		TransactionRef: n.TransactionRef,
		State:          n.State,
		SignatureValid: signatureValid,
		Outcome:        outcome,
		Error:          reason,
	}
	if json.Valid(n.Raw) {
		history.Metadata = datatypes.JSON(n.Raw)
	}

	if err := p.store.RecordCallback(ctx, history); err != nil {
		log.Printf("WARN: Failed to record %s callback history for %s: %v", n.Gateway, n.TransactionRef, err)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// String renders the result for logs
func (r EnrollmentResult) String() string {
	if r.Reason == "" {
		return string(r.Outcome)
	}
	return fmt.Sprintf("%s (%s)", r.Outcome, r.Reason)
}
