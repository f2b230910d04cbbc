package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"timerfleet/model"
)

func TestCompletionLogRepo_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO completion_logs (timer_id, server_id, notification_received_at, processing_started_at, processing_completed_at, lock_acquired, success, error_message, original_target_instant, processing_delay_millis) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
	)).WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewCompletionLogRepo(db)
	id, err := repo.Create(context.Background(), model.CompletionLog{
		TimerID:                "timer-1",
		ServerID:               "server-a",
		NotificationReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
}

func TestCompletionLogRepo_ByTimer_Empty(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM completion_logs WHERE timer_id = ? ORDER BY notification_received_at ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timer_id", "server_id", "notification_received_at", "processing_started_at", "processing_completed_at", "lock_acquired", "success", "error_message", "original_target_instant", "processing_delay_millis"}))

	repo := NewCompletionLogRepo(db)
	logs, err := repo.ByTimer(context.Background(), "timer-1")
	if err != nil {
		t.Fatalf("ByTimer: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("logs = %+v, want empty", logs)
	}
}
