package tasks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

// Dependencies are what the task handlers are built from
type Dependencies struct {
	Store                *services.PaymentStore
	Enroller             Enroller
	ReconcileMaxAttempts int
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Dependencies) {
	reconcile := NewReconcileEnrollmentsTask(deps.Store, deps.Enroller, deps.ReconcileMaxAttempts)
	r.Register(reconcile.TaskID(), reconcile.HandleExecution)

	prune := NewPruneCallbackHistoryTask(deps.Store)
	r.Register(prune.TaskID(), prune.HandleExecution)
}

// ScheduleDefaults makes sure the recurring maintenance tasks exist and are
// not stuck behind an expired claim. Reconciliation follows reconcileRule;
// history is pruned daily.
func ScheduleDefaults(ctx context.Context, db *gorm.DB, reconcileRule string, lease time.Duration) error {
	if _, err := EnsureRecurring(ctx, db, "reconcile_enrollments", nil, reconcileRule, 1, lease); err != nil {
		return fmt.Errorf("schedule reconcile_enrollments: %w", err)
	}
	if _, err := EnsureRecurring(ctx, db, "prune_callback_history", PruneCallbackHistoryArgs{RetentionDays: defaultRetentionDays}, "FREQ=DAILY;BYHOUR=3", 1, lease); err != nil {
		return fmt.Errorf("schedule prune_callback_history: %w", err)
	}
	return nil
}
