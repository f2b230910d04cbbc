package monitor

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"timerfleet/config"
	"timerfleet/model"
	"timerfleet/store"
)

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(raw, "mysql")
	return db, mock, func() { _ = db.Close() }
}

// TestDetectNow_SurfacesCommitDivergence exercises DetectNow end to end (the
// only public entry point) to confirm a candidate with a success=true log
// but still-pending Timer is actually diagnosed rather than dropped before
// classify ever sees it.
func TestDetectNow_SurfacesCommitDivergence(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	timerRows := sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}).
		AddRow("timer-1", "owner-1", time.Now().Add(-time.Minute), time.Now(), time.Now(), false, nil, "tok")
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM timers WHERE (completed = ?) AND (target_instant < ?) AND (target_instant >= ?)",
	)).WillReturnRows(timerRows)

	logRows := sqlmock.NewRows([]string{"id", "timer_id", "server_id", "notification_received_at", "processing_started_at", "processing_completed_at", "lock_acquired", "success", "error_message", "original_target_instant", "processing_delay_millis"}).
		AddRow(1, "timer-1", "server-a", time.Now(), time.Now(), time.Now(), true, true, "", time.Now(), int64(5))
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM completion_logs WHERE timer_id = ? ORDER BY notification_received_at ASC",
	)).WillReturnRows(logRows)

	timers := store.NewTimerRepo(db)
	completions := store.NewCompletionLogRepo(db)
	eventLogs := store.NewEventLogRepo(db)
	mon := New(timers, completions, eventLogs, config.Default())

	diagnostics, err := mon.DetectNow(context.Background())
	if err != nil {
		t.Fatalf("DetectNow: %v", err)
	}
	if len(diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want exactly 1 commit-divergence finding", diagnostics)
	}
	if diagnostics[0].Class != model.CommitDivergence {
		t.Fatalf("class = %v, want CommitDivergence", diagnostics[0].Class)
	}
}
