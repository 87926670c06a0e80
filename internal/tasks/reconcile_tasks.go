package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cast"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

const (
	defaultReconcileBatch = 100
	reasonOrphaned        = "payment recorded without enrollment"
	reasonNoPayer         = "missing payer identifier"
)

// ReconcileStore is the subset of services.PaymentStore the reconciliation
// task needs.
type ReconcileStore interface {
	OrphanedPayments(ctx context.Context, limit int) ([]models.Payment, error)
	RecordEnrollmentFailure(ctx context.Context, failure *models.EnrollmentFailure) error
	EnrollmentFailures(ctx context.Context, status models.EnrollmentFailureStatus, limit int) ([]models.EnrollmentFailure, error)
	ResolveEnrollmentFailure(ctx context.Context, ref string, at time.Time) error
	MarkEnrollmentAttempt(ctx context.Context, failure *models.EnrollmentFailure, reason string, exhausted bool, at time.Time) error
}

// Enroller writes an enrollment for a recorded payment.
// services.WebhookProcessor satisfies it.
type Enroller interface {
	Enroll(ctx context.Context, transactionRef, courseID, studentID string) services.EnrollmentResult
}

// ReconcileEnrollmentsArgs are the optional task arguments
type ReconcileEnrollmentsArgs struct {
	BatchSize   int `json:"batch_size,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// ReconcileEnrollmentsTaskDef retries enrollments for payments that were
// recorded but never turned into an enrollment.
type ReconcileEnrollmentsTaskDef struct {
	store       ReconcileStore
	enroller    Enroller
	maxAttempts int
	now         func() time.Time
}

func NewReconcileEnrollmentsTask(store ReconcileStore, enroller Enroller, maxAttempts int) *ReconcileEnrollmentsTaskDef {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ReconcileEnrollmentsTaskDef{
		store:       store,
		enroller:    enroller,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// TaskID returns the unique identifier for this task
func (t *ReconcileEnrollmentsTaskDef) TaskID() string {
	return "reconcile_enrollments"
}

// HandleExecution first dead-letters orphaned payments, then retries every
// pending dead-letter row once.
func (t *ReconcileEnrollmentsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	batch, maxAttempts, err := t.parseArgs(task.Arguments)
	if err != nil {
		return nil, err
	}

	swept, err := t.sweepOrphans(ctx, batch)
	if err != nil {
		return nil, err
	}

	failures, err := t.store.EnrollmentFailures(ctx, models.EnrollmentFailureStatusPending, batch)
	if err != nil {
		return nil, fmt.Errorf("list pending enrollment failures: %w", err)
	}

	resolved, retrying, exhausted, storeErrors := 0, 0, 0, 0
	for i := range failures {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failure := &failures[i]
		outcome, err := t.retry(ctx, failure, maxAttempts)
		if err != nil {
			log.Printf("ERROR: Failed to update enrollment failure %s: %v", failure.TransactionRef, err)
			storeErrors++
			continue
		}
		switch outcome {
		case models.EnrollmentFailureStatusResolved:
			resolved++
		case models.EnrollmentFailureStatusExhausted:
			exhausted++
		default:
			retrying++
		}
	}

	log.Printf("INFO: Reconciled enrollments: swept=%d resolved=%d retrying=%d exhausted=%d", swept, resolved, retrying, exhausted)

	return map[string]interface{}{
		"swept":        swept,
		"checked":      len(failures),
		"resolved":     resolved,
		"retrying":     retrying,
		"exhausted":    exhausted,
		"store_errors": storeErrors,
	}, nil
}

func (t *ReconcileEnrollmentsTaskDef) parseArgs(args map[string]interface{}) (int, int, error) {
	batch, maxAttempts := defaultReconcileBatch, t.maxAttempts

	if v, ok := args["batch_size"]; ok {
		n, err := cast.ToIntE(v)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid batch_size %v", v)
		}
		batch = n
	}
	if v, ok := args["max_attempts"]; ok {
		n, err := cast.ToIntE(v)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid max_attempts %v", v)
		}
		maxAttempts = n
	}
	return batch, maxAttempts, nil
}

func (t *ReconcileEnrollmentsTaskDef) sweepOrphans(ctx context.Context, limit int) (int, error) {
	orphans, err := t.store.OrphanedPayments(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find orphaned payments: %w", err)
	}

	swept := 0
	for _, p := range orphans {
		log.Printf("WARN: Payment %s has no enrollment, dead-lettering", p.TransactionRef)
		err := t.store.RecordEnrollmentFailure(ctx, &models.EnrollmentFailure{
			TransactionRef: p.TransactionRef,
			CourseID:       *p.CourseID,
			StudentID:      p.UserID,
			Reason:         reasonOrphaned,
		})
		if err != nil {
			log.Printf("ERROR: Failed to dead-letter payment %s: %v", p.TransactionRef, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// retry runs one enrollment attempt for a dead-letter row and returns the
// row's new status.
func (t *ReconcileEnrollmentsTaskDef) retry(ctx context.Context, failure *models.EnrollmentFailure, maxAttempts int) (models.EnrollmentFailureStatus, error) {
	now := t.now()

	if failure.StudentID == nil || *failure.StudentID == "" {
		// nothing to retry with; leave it for support
		err := t.store.MarkEnrollmentAttempt(ctx, failure, reasonNoPayer, true, now)
		return models.EnrollmentFailureStatusExhausted, err
	}

	result := t.enroller.Enroll(ctx, failure.TransactionRef, failure.CourseID, *failure.StudentID)
	if result.Done() {
		log.Printf("INFO: Enrollment for %s reconciled (%s)", failure.TransactionRef, result.Outcome)
		return models.EnrollmentFailureStatusResolved, t.store.ResolveEnrollmentFailure(ctx, failure.TransactionRef, now)
	}

	exhausted := failure.Attempts+1 >= maxAttempts
	if exhausted {
		log.Printf("ERROR: Giving up on enrollment for %s after %d attempts: %s", failure.TransactionRef, failure.Attempts+1, result.Reason)
	}
	if err := t.store.MarkEnrollmentAttempt(ctx, failure, result.Reason, exhausted, now); err != nil {
		return "", err
	}
	return failure.Status, nil
}
