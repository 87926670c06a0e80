package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createTask(t *testing.T, db *gorm.DB, name, rule string, maxAttempt int, due time.Time) models.ScheduledTask {
	t.Helper()
	task, err := BuildScheduledTask(name, nil, due, rule, maxAttempt)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	return *task
}

func reload(t *testing.T, db *gorm.DB, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	if err := db.First(&task, id).Error; err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

func histories(t *testing.T, db *gorm.DB, id uint) []models.ScheduledTaskHistory {
	t.Helper()
	var rows []models.ScheduledTaskHistory
	if err := db.Where("scheduled_task_id = ?", id).Order("attempt_number").Find(&rows).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	return rows
}

func TestBuildScheduledTask(t *testing.T) {
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task, err := BuildScheduledTask("prune_callback_history", PruneCallbackHistoryArgs{RetentionDays: 30}, due, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.TaskType != models.ScheduledTaskTypeOneTime || task.RecurringInterval != nil {
		t.Errorf("task type = %s; want onetime", task.TaskType)
	}
	if task.MaxAttempt != 1 {
		t.Errorf("max attempt = %d; want 1", task.MaxAttempt)
	}
	if task.Arguments["retention_days"] != float64(30) {
		t.Errorf("arguments = %v", task.Arguments)
	}

	task, err = BuildScheduledTask("reconcile_enrollments", nil, due, "FREQ=MINUTELY;INTERVAL=15", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.TaskType != models.ScheduledTaskTypeRecurring || task.RecurringInterval == nil {
		t.Errorf("task type = %s; want recurring", task.TaskType)
	}

	if _, err := BuildScheduledTask("x", nil, due, "FREQ=SOMETIMES", 1); err == nil {
		t.Error("expected error for invalid rule")
	}
}

func TestEnsureRecurringIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := EnsureRecurring(ctx, db, "reconcile_enrollments", nil, "FREQ=MINUTELY;INTERVAL=15", 1, 0)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := EnsureRecurring(ctx, db, "reconcile_enrollments", nil, "FREQ=MINUTELY;INTERVAL=15", 1, 0)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("created a second task: %d and %d", first.ID, second.ID)
	}

	if err := ScheduleDefaults(ctx, db, "FREQ=MINUTELY;INTERVAL=15", 0); err != nil {
		t.Fatalf("ScheduleDefaults: %v", err)
	}
	var n int64
	db.Model(&models.ScheduledTask{}).Count(&n)
	if n != 2 {
		t.Errorf("tasks = %d; want 2", n)
	}
}

func TestRunnerExecute(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	tests := []struct {
		name         string
		rule         string
		maxAttempt   int
		failures     int // attempts that fail before one succeeds
		wantCalls    int
		wantStatus   models.ScheduledTaskStatus
		wantDue      time.Time
		wantLastStat string
	}{
		{
			name:         "one time success",
			maxAttempt:   3,
			wantCalls:    1,
			wantStatus:   models.ScheduledTaskStatusDone,
			wantDue:      due,
			wantLastStat: historyStatusSuccess,
		},
		{
			name:         "one time retried then succeeds",
			maxAttempt:   3,
			failures:     2,
			wantCalls:    3,
			wantStatus:   models.ScheduledTaskStatusDone,
			wantDue:      due,
			wantLastStat: historyStatusSuccess,
		},
		{
			name:         "one time exhausts attempts",
			maxAttempt:   2,
			failures:     5,
			wantCalls:    2,
			wantStatus:   models.ScheduledTaskStatusFailure,
			wantDue:      due,
			wantLastStat: historyStatusFailure,
		},
		{
			name:         "recurring moves to next occurrence",
			rule:         "FREQ=MINUTELY;INTERVAL=15",
			maxAttempt:   1,
			wantCalls:    1,
			wantStatus:   models.ScheduledTaskStatusActive,
			wantDue:      due.Add(15 * time.Minute),
			wantLastStat: historyStatusSuccess,
		},
		{
			name:         "recurring failure keeps schedule",
			rule:         "FREQ=MINUTELY;INTERVAL=15",
			maxAttempt:   1,
			failures:     1,
			wantCalls:    1,
			wantStatus:   models.ScheduledTaskStatusActive,
			wantDue:      due.Add(15 * time.Minute),
			wantLastStat: historyStatusFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			calls := 0
			registry := NewRegistry()
			registry.Register("job", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
				calls++
				if calls <= tt.failures {
					return nil, boom
				}
				return map[string]interface{}{"ok": true}, nil
			})
			runner := NewRunner(db, registry, 0)
			runner.now = func() time.Time { return now }

			task := createTask(t, db, "job", tt.rule, tt.maxAttempt, due)

			executed, err := runner.ProcessDue(context.Background())
			if err != nil {
				t.Fatalf("ProcessDue: %v", err)
			}
			if executed != 1 {
				t.Errorf("executed = %d; want 1", executed)
			}
			if calls != tt.wantCalls {
				t.Errorf("handler calls = %d; want %d", calls, tt.wantCalls)
			}

			got := reload(t, db, task.ID)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s; want %s", got.Status, tt.wantStatus)
			}
			if !got.Due.Equal(tt.wantDue) {
				t.Errorf("due = %s; want %s", got.Due, tt.wantDue)
			}
			if got.LastRun == nil {
				t.Error("last_run not set")
			}

			rows := histories(t, db, task.ID)
			if len(rows) != tt.wantCalls {
				t.Fatalf("history rows = %d; want %d", len(rows), tt.wantCalls)
			}
			if last := rows[len(rows)-1]; last.Status != tt.wantLastStat || last.AttemptNumber != tt.wantCalls {
				t.Errorf("last history = %s attempt %d; want %s attempt %d", last.Status, last.AttemptNumber, tt.wantLastStat, tt.wantCalls)
			}
		})
	}
}

func TestRunnerUnknownHandler(t *testing.T) {
	db := newTestDB(t)
	runner := NewRunner(db, NewRegistry(), 0)
	task := createTask(t, db, "missing", "", 3, time.Now().Add(-time.Minute))

	if _, err := runner.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if got := reload(t, db, task.ID); got.Status != models.ScheduledTaskStatusFailure {
		t.Errorf("status = %s; want failure", got.Status)
	}
	rows := histories(t, db, task.ID)
	if len(rows) != 1 || rows[0].Status != historyStatusHandlerNotFound {
		t.Errorf("history = %+v", rows)
	}
}

func TestRunnerSkipsUnclaimableTasks(t *testing.T) {
	db := newTestDB(t)
	calls := 0
	registry := NewRegistry()
	registry.Register("job", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		calls++
		return nil, nil
	})
	runner := NewRunner(db, registry, 0)

	past := time.Now().Add(-time.Minute)
	running := createTask(t, db, "job", "", 1, past)
	db.Model(&models.ScheduledTask{}).Where("id = ?", running.ID).Updates(map[string]interface{}{
		"status":     models.ScheduledTaskStatusRunning,
		"claimed_at": time.Now(),
	})
	createTask(t, db, "job", "", 1, time.Now().Add(time.Hour))

	executed, err := runner.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if executed != 0 || calls != 0 {
		t.Errorf("executed = %d, calls = %d; want none", executed, calls)
	}

	// a second claim of the same row loses
	task := createTask(t, db, "job", "", 1, past)
	if ok, err := runner.claim(context.Background(), task); !ok || err != nil {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := runner.claim(context.Background(), task); ok {
		t.Error("second claim succeeded")
	}
}

func markRunning(t *testing.T, db *gorm.DB, id uint, claimedAt *time.Time) {
	t.Helper()
	err := db.Model(&models.ScheduledTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.ScheduledTaskStatusRunning,
		"claimed_at": claimedAt,
	}).Error
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
}

func TestRunnerTakesOverExpiredClaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	fresh := now.Add(-5 * time.Minute)
	expired := now.Add(-45 * time.Minute)

	tests := []struct {
		name      string
		claimedAt *time.Time
		wantRun   bool
	}{
		{name: "claim within lease", claimedAt: &fresh, wantRun: false},
		{name: "claim past lease", claimedAt: &expired, wantRun: true},
		{name: "running without claim time", claimedAt: nil, wantRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			calls := 0
			registry := NewRegistry()
			registry.Register("reconcile_enrollments", func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
				calls++
				return nil, nil
			})
			runner := NewRunner(db, registry, 30*time.Minute)
			runner.now = func() time.Time { return now }

			task := createTask(t, db, "reconcile_enrollments", "FREQ=MINUTELY;INTERVAL=15", 1, due)
			markRunning(t, db, task.ID, tt.claimedAt)

			executed, err := runner.ProcessDue(context.Background())
			if err != nil {
				t.Fatalf("ProcessDue: %v", err)
			}

			got := reload(t, db, task.ID)
			if tt.wantRun {
				if executed != 1 || calls != 1 {
					t.Fatalf("executed = %d, calls = %d; want 1 each", executed, calls)
				}
				if got.Status != models.ScheduledTaskStatusActive || got.ClaimedAt != nil {
					t.Errorf("after run: status = %s claimed_at = %v; want active with no claim", got.Status, got.ClaimedAt)
				}
				if !got.Due.After(now) {
					t.Errorf("due = %s; want after %s", got.Due, now)
				}
				return
			}
			if executed != 0 || calls != 0 {
				t.Errorf("executed = %d, calls = %d; want none", executed, calls)
			}
			if got.Status != models.ScheduledTaskStatusRunning {
				t.Errorf("status = %s; want running", got.Status)
			}
		})
	}
}

func TestScheduleDefaultsRecoversStuckReconciliation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	stuck := createTask(t, db, "reconcile_enrollments", "FREQ=MINUTELY;INTERVAL=15", 1, time.Now().Add(-time.Hour))
	claimedAt := time.Now().Add(-2 * time.Hour)
	markRunning(t, db, stuck.ID, &claimedAt)

	if err := ScheduleDefaults(ctx, db, "FREQ=MINUTELY;INTERVAL=15", time.Hour); err != nil {
		t.Fatalf("ScheduleDefaults: %v", err)
	}

	var reconcileRows int64
	db.Model(&models.ScheduledTask{}).Where("task_name = ?", "reconcile_enrollments").Count(&reconcileRows)
	if reconcileRows != 1 {
		t.Errorf("reconcile tasks = %d; want the stuck one reused", reconcileRows)
	}
	if got := reload(t, db, stuck.ID); got.Status != models.ScheduledTaskStatusActive || got.ClaimedAt != nil {
		t.Fatalf("status = %s claimed_at = %v; want active", got.Status, got.ClaimedAt)
	}

	ran := map[string]int{}
	registry := NewRegistry()
	for _, name := range []string{"reconcile_enrollments", "prune_callback_history"} {
		name := name
		registry.Register(name, func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
			ran[name]++
			return nil, nil
		})
	}
	// sqlite stores times as text, so step past the second the tasks were scheduled in
	runner := NewRunner(db, registry, time.Hour)
	runner.now = func() time.Time { return time.Now().Add(time.Second) }

	executed, err := runner.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if executed != 2 || ran["reconcile_enrollments"] != 1 {
		t.Errorf("executed = %d, runs = %v; want reconciliation to run", executed, ran)
	}
}

func TestEnsureRecurringKeepsLiveClaim(t *testing.T) {
	db := newTestDB(t)
	task := createTask(t, db, "reconcile_enrollments", "FREQ=MINUTELY;INTERVAL=15", 1, time.Now())
	claimedAt := time.Now()
	markRunning(t, db, task.ID, &claimedAt)

	got, err := EnsureRecurring(context.Background(), db, "reconcile_enrollments", nil, "FREQ=MINUTELY;INTERVAL=15", 1, time.Hour)
	if err != nil {
		t.Fatalf("EnsureRecurring: %v", err)
	}
	if got.ID != task.ID || got.Status != models.ScheduledTaskStatusRunning {
		t.Errorf("task = %d %s; want %d still running", got.ID, got.Status, task.ID)
	}
}

func seedPayment(t *testing.T, store *services.PaymentStore, ref string, courseID, userID *string) {
	t.Helper()
	_, err := store.CreatePayment(context.Background(), &models.Payment{
		TransactionRef: ref,
		Amount:         decimal.NewFromInt(500),
		Currency:       "KES",
		Status:         models.PaymentStatusCompleted,
		CourseID:       courseID,
		UserID:         userID,
		PaymentGateway: models.PaymentGatewayIntaSend,
		PaidAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func strPtr(s string) *string { return &s }

type failingEnroller struct{ reason string }

func (f failingEnroller) Enroll(ctx context.Context, ref, courseID, studentID string) services.EnrollmentResult {
	return services.EnrollmentResult{Outcome: services.EnrollmentFailed, Reason: f.reason}
}

func TestReconcileEnrollments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := services.NewPaymentStore(db)
	processor := services.NewWebhookProcessor(store, nil, nil)

	// orphan: payment with course and payer but no enrollment
	seedPayment(t, store, "INV-1", strPtr("C1"), strPtr("U1"))
	// already dead-lettered, payer known
	store.RecordEnrollmentFailure(ctx, &models.EnrollmentFailure{TransactionRef: "INV-2", CourseID: "C2", StudentID: strPtr("U2"), Reason: "db down"})
	// dead-lettered without payer
	store.RecordEnrollmentFailure(ctx, &models.EnrollmentFailure{TransactionRef: "INV-3", CourseID: "C3", Reason: "missing payer identifier"})
	// payment without course is never an orphan
	seedPayment(t, store, "INV-4", nil, strPtr("U4"))

	task := NewReconcileEnrollmentsTask(store, processor, 5)
	result, err := task.HandleExecution(ctx, models.ScheduledTask{})
	if err != nil {
		t.Fatalf("HandleExecution: %v", err)
	}

	if result["swept"] != 1 || result["resolved"] != 2 || result["exhausted"] != 1 {
		t.Errorf("result = %v", result)
	}

	var enrollments int64
	db.Model(&models.Enrollment{}).Count(&enrollments)
	if enrollments != 2 {
		t.Errorf("enrollments = %d; want 2", enrollments)
	}

	want := map[string]models.EnrollmentFailureStatus{
		"INV-1": models.EnrollmentFailureStatusResolved,
		"INV-2": models.EnrollmentFailureStatusResolved,
		"INV-3": models.EnrollmentFailureStatusExhausted,
	}
	failures, _ := store.EnrollmentFailures(ctx, "", 0)
	if len(failures) != len(want) {
		t.Fatalf("failures = %d; want %d", len(failures), len(want))
	}
	for _, f := range failures {
		if f.Status != want[f.TransactionRef] {
			t.Errorf("%s status = %s; want %s", f.TransactionRef, f.Status, want[f.TransactionRef])
		}
	}

	// a second run finds nothing to do
	result, err = task.HandleExecution(ctx, models.ScheduledTask{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result["swept"] != 0 || result["checked"] != 0 {
		t.Errorf("second run result = %v", result)
	}
}

func TestReconcileEnrollmentsExhaustsAttempts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := services.NewPaymentStore(db)
	store.RecordEnrollmentFailure(ctx, &models.EnrollmentFailure{TransactionRef: "INV-1", CourseID: "C1", StudentID: strPtr("U1")})

	task := NewReconcileEnrollmentsTask(store, failingEnroller{reason: "still down"}, 3)

	wantStatus := []models.EnrollmentFailureStatus{
		models.EnrollmentFailureStatusPending,
		models.EnrollmentFailureStatusPending,
		models.EnrollmentFailureStatusExhausted,
	}
	for i, want := range wantStatus {
		if _, err := task.HandleExecution(ctx, models.ScheduledTask{}); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		failures, _ := store.EnrollmentFailures(ctx, "", 0)
		if len(failures) != 1 {
			t.Fatalf("failures = %d; want 1", len(failures))
		}
		got := failures[0]
		if got.Status != want || got.Attempts != i+1 {
			t.Errorf("run %d: status = %s attempts = %d; want %s attempts %d", i+1, got.Status, got.Attempts, want, i+1)
		}
		if got.Reason != "still down" {
			t.Errorf("reason = %q", got.Reason)
		}
	}

	// exhausted rows are no longer retried
	result, _ := task.HandleExecution(ctx, models.ScheduledTask{})
	if result["checked"] != 0 {
		t.Errorf("checked = %v; want 0", result["checked"])
	}
}

func TestReconcileEnrollmentsArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{name: "defaults", args: nil},
		{name: "numeric from json", args: map[string]interface{}{"batch_size": float64(10), "max_attempts": float64(2)}},
		{name: "string values", args: map[string]interface{}{"batch_size": "10"}},
		{name: "zero batch", args: map[string]interface{}{"batch_size": 0}, wantErr: true},
		{name: "garbage", args: map[string]interface{}{"max_attempts": "many"}, wantErr: true},
	}

	task := NewReconcileEnrollmentsTask(nil, nil, 5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := task.parseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPruneCallbackHistory(t *testing.T) {
	db := newTestDB(t)
	store := services.NewPaymentStore(db)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []int{200, 40, 1} {
		row := models.PaymentCallbackHistory{
			PaymentGateway: models.PaymentGatewayIntaSend,
			TransactionRef: "INV-" + string(rune('1'+i)),
			Outcome:        models.CallbackOutcomeRecorded,
			CreatedAt:      now.AddDate(0, 0, -age),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	task := NewPruneCallbackHistoryTask(store)
	task.now = func() time.Time { return now }

	tests := []struct {
		name        string
		args        map[string]interface{}
		wantDeleted int64
		wantErr     bool
	}{
		{name: "default retention", wantDeleted: 1},
		{name: "thirty days", args: map[string]interface{}{"retention_days": float64(30)}, wantDeleted: 1},
		{name: "invalid", args: map[string]interface{}{"retention_days": -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := task.HandleExecution(context.Background(), models.ScheduledTask{Arguments: tt.args})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v; wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if result["deleted"] != tt.wantDeleted {
				t.Errorf("deleted = %v; want %d", result["deleted"], tt.wantDeleted)
			}
		})
	}
}
