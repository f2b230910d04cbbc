package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(raw, "mysql")
	return db, mock, func() { _ = db.Close() }
}

func TestTimerRepo_UpdateTarget_ConflictWhenCompleted(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE timers SET target_instant = ?, updated_at = ? WHERE (timer_id = ?) AND (completed = ?)",
	)).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewTimerRepo(db)
	err := repo.UpdateTarget(context.Background(), "timer-1", time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}
}

func TestTimerRepo_MarkCompleted(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE timers SET completed = ?, completed_at = ?, updated_at = ? WHERE (timer_id = ?) AND (completed = ?)",
	)).WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewTimerRepo(db)
	now := time.Now()
	if err := repo.MarkCompleted(context.Background(), "timer-1", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestTimerRepo_GetByID_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"timer_id"}))

	repo := NewTimerRepo(db)
	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not-found error, got nil")
	}
}
