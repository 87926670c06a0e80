package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

const (
	historyStatusSuccess         = "success"
	historyStatusFailure         = "failure"
	historyStatusHandlerNotFound = "handler_not_found"
)

// DefaultClaimLease is how long a running task may stay claimed before
// another worker takes it over.
const DefaultClaimLease = 30 * time.Minute

// Runner executes due scheduled tasks. Several workers may share one
// database: a task is claimed by flipping it from active to running, and
// only the worker whose update wins executes it. A claim older than the
// lease is taken over, so a worker that died mid-run does not strand the
// task in running.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	lease    time.Duration
	now      func() time.Time
}

// NewRunner creates a runner; a lease <= 0 means DefaultClaimLease
func NewRunner(db *gorm.DB, registry *Registry, lease time.Duration) *Runner {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &Runner{db: db, registry: registry, lease: lease, now: time.Now}
}

// ProcessDue runs every active task whose due time has passed and reports
// how many were executed by this runner.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	now := r.now()
	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Or(r.staleClaim(now)).
		Order("due").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("fetch pending tasks: %w", err)
	}

	if len(pending) == 0 {
		log.Println("INFO: No pending tasks found.")
		return 0, nil
	}
	log.Printf("INFO: Found %d pending tasks.", len(pending))

	executed := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}

		if task.Status == models.ScheduledTaskStatusRunning {
			log.Printf("WARN: Task %s (ID: %d) claim expired, taking it over", task.TaskName, task.ID)
		}

		claimed, err := r.claim(ctx, task)
		if err != nil {
			log.Printf("ERROR: Failed to claim task %s (ID: %d): %v", task.TaskName, task.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		r.Execute(ctx, task)
		executed++
	}
	return executed, nil
}

// staleClaim matches running tasks whose claim has outlived the lease
func (r *Runner) staleClaim(now time.Time) *gorm.DB {
	return r.db.Where("status = ? AND (claimed_at IS NULL OR claimed_at <= ?)",
		models.ScheduledTaskStatusRunning, now.Add(-r.lease))
}

func (r *Runner) claim(ctx context.Context, task models.ScheduledTask) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledTask{}).
		Where("id = ?", task.ID).
		Where(r.db.Where("status = ?", models.ScheduledTaskStatusActive).Or(r.staleClaim(now))).
		Updates(map[string]interface{}{
			"status":     models.ScheduledTaskStatusRunning,
			"claimed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// Execute runs a claimed task up to MaxAttempt times, writing one history
// row per attempt, then moves the task to its next state.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log.Printf("INFO: Processing task: %s (ID: %d)", task.TaskName, task.ID)

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Printf("WARN: Task handler not found for: %s. Marking as failure.", task.TaskName)
		now := r.now()
		r.writeHistory(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          historyStatusHandlerNotFound,
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "handler not found"},
		})
		r.finish(ctx, task, now, false)
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var (
		startTime time.Time
		succeeded bool
	)
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		startTime = r.now()
		result, err := handler(ctx, task)
		runtimeMs := int(time.Since(startTime).Milliseconds())

		history := models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			Runtime:         runtimeMs,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
		}
		if err != nil {
			history.Status = historyStatusFailure
			history.Result = map[string]interface{}{"error": err.Error()}
			log.Printf("ERROR: Task %s attempt %d/%d failed: %v", task.TaskName, attempt, maxAttempt, err)
		} else {
			history.Status = historyStatusSuccess
			history.Result = result
			log.Printf("INFO: Task %s completed successfully.", task.TaskName)
		}
		r.writeHistory(ctx, history)

		if err == nil {
			succeeded = true
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	r.finish(ctx, task, startTime, succeeded)
}

// finish stores the outcome. Recurring tasks always move on to their next
// occurrence, so one bad run does not stop the schedule; a failed one-time
// task is parked in the failure state.
func (r *Runner) finish(ctx context.Context, task models.ScheduledTask, lastRun time.Time, succeeded bool) {
	updates := map[string]interface{}{
		"last_run":   lastRun,
		"claimed_at": nil,
	}

	switch {
	case task.TaskType == models.ScheduledTaskTypeRecurring:
		// NextDue is strictly after now, so a task that fell behind does
		// not replay every missed occurrence.
		nextDue := task.NextDue(r.now())
		if nextDue.IsZero() {
			updates["status"] = models.ScheduledTaskStatusDone
		} else {
			updates["status"] = models.ScheduledTaskStatusActive
			updates["due"] = nextDue
		}
	case succeeded:
		updates["status"] = models.ScheduledTaskStatusDone
	default:
		updates["status"] = models.ScheduledTaskStatusFailure
	}

	// the worker may be shutting down; the update must still land or the
	// task stays stuck in running
	err := r.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.ScheduledTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
	if err != nil {
		log.Printf("ERROR: Failed to update task %s (ID: %d): %v", task.TaskName, task.ID, err)
	}
}

func (r *Runner) writeHistory(ctx context.Context, history models.ScheduledTaskHistory) {
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&history).Error; err != nil {
		log.Printf("ERROR: Failed to write history for task %s: %v", history.TaskName, err)
	}
}
