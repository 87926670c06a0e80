package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cast"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

const defaultRetentionDays = 90

// CallbackHistoryPruner deletes webhook delivery rows older than a cutoff
type CallbackHistoryPruner interface {
	PruneCallbackHistory(ctx context.Context, before time.Time) (int64, error)
}

// PruneCallbackHistoryArgs are the optional task arguments
type PruneCallbackHistoryArgs struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// PruneCallbackHistoryTaskDef encapsulates the history retention task
type PruneCallbackHistoryTaskDef struct {
	store CallbackHistoryPruner
	now   func() time.Time
}

func NewPruneCallbackHistoryTask(store CallbackHistoryPruner) *PruneCallbackHistoryTaskDef {
	return &PruneCallbackHistoryTaskDef{store: store, now: time.Now}
}

// TaskID returns the unique identifier for this task
func (t *PruneCallbackHistoryTaskDef) TaskID() string {
	return "prune_callback_history"
}

// HandleExecution removes callback history older than retention_days
func (t *PruneCallbackHistoryTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	days := defaultRetentionDays
	if v, ok := task.Arguments["retention_days"]; ok {
		n, err := cast.ToIntE(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid retention_days %v", v)
		}
		days = n
	}

	cutoff := t.now().AddDate(0, 0, -days)
	deleted, err := t.store.PruneCallbackHistory(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune callback history: %w", err)
	}

	log.Printf("INFO: [Task: %s] Deleted %d callback rows older than %s", t.TaskID(), deleted, cutoff.Format(time.RFC3339))

	return map[string]interface{}{
		"status":         "success",
		"deleted":        deleted,
		"retention_days": days,
	}, nil
}
