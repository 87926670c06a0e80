package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

// BuildScheduledTask builds a ScheduledTask record from any JSON-encodable
// argument struct. A non-empty rule makes the task recurring; the rule must
// parse as an RFC 5545 RRULE.
func BuildScheduledTask(taskName string, args interface{}, due time.Time, rule string, maxAttempt int) (*models.ScheduledTask, error) {
	mapArgs := map[string]interface{}{}
	if args != nil {
		argsBytes, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal args: %w", err)
		}
		if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
		}
	}

	if maxAttempt < 1 {
		maxAttempt = 1
	}

	task := &models.ScheduledTask{
		TaskName:   taskName,
		Arguments:  mapArgs,
		Due:        due,
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: maxAttempt,
	}

	if rule != "" {
		if _, err := rrule.StrToRRule(rule); err != nil {
			return nil, fmt.Errorf("invalid recurring rule %q: %w", rule, err)
		}
		task.TaskType = models.ScheduledTaskTypeRecurring
		task.RecurringInterval = &rule
	}

	return task, nil
}

// EnsureRecurring makes sure exactly one live recurring task exists for the
// name. An active task, or a running one whose claim is younger than lease,
// is returned untouched. A running task with an expired claim was left
// behind by a dead worker and is put back to active, due immediately.
// Otherwise a new task is created, due immediately.
func EnsureRecurring(ctx context.Context, db *gorm.DB, taskName string, args interface{}, rule string, maxAttempt int, lease time.Duration) (*models.ScheduledTask, error) {
	if lease <= 0 {
		lease = DefaultClaimLease
	}

	var existing models.ScheduledTask
	err := db.WithContext(ctx).
		Where("task_name = ? AND task_type = ?", taskName, models.ScheduledTaskTypeRecurring).
		Where("status IN ?", []models.ScheduledTaskStatus{models.ScheduledTaskStatusActive, models.ScheduledTaskStatusRunning}).
		Order("id").
		First(&existing).Error
	if err == nil {
		now := time.Now()
		if !existing.ClaimExpired(now, lease) {
			return &existing, nil
		}

		log.Printf("WARN: Recurring task %s (ID: %d) stuck in running since %v, reactivating", taskName, existing.ID, existing.ClaimedAt)
		res := db.WithContext(ctx).
			Model(&models.ScheduledTask{}).
			Where("id = ? AND status = ?", existing.ID, models.ScheduledTaskStatusRunning).
			Updates(map[string]interface{}{
				"status":     models.ScheduledTaskStatusActive,
				"claimed_at": nil,
				"due":        now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("reactivate %s: %w", taskName, res.Error)
		}
		existing.Status = models.ScheduledTaskStatusActive
		existing.ClaimedAt = nil
		existing.Due = now
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", taskName, err)
	}

	task, err := BuildScheduledTask(taskName, args, time.Now(), rule, maxAttempt)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("create %s: %w", taskName, err)
	}

	log.Printf("INFO: Scheduled recurring task %s (ID: %d, rule %s)", taskName, task.ID, rule)
	return task, nil
}
