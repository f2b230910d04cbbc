package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"timerfleet/model"
)

func TestTimestampMarkRepo_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO timestamp_marks (timer_id, user_id, saved_at, remaining_at_save, target_at_save, meta) VALUES (?, ?, ?, ?, ?, ?)",
	)).WillReturnResult(sqlmock.NewResult(7, 1))

	repo := NewTimestampMarkRepo(db)
	id, err := repo.Create(context.Background(), model.TimestampMark{
		TimerID: "timer-1",
		UserID:  "user-1",
		SavedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}
}

func TestTimestampMarkRepo_LatestForUser_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM timestamp_marks WHERE (timer_id = ?) AND (user_id = ?) ORDER BY saved_at DESC LIMIT 1",
	)).WillReturnRows(sqlmock.NewRows([]string{"id", "timer_id", "user_id", "saved_at", "remaining_at_save", "target_at_save", "meta"}))

	repo := NewTimestampMarkRepo(db)
	_, err := repo.LatestForUser(context.Background(), "timer-1", "user-1")
	if err == nil {
		t.Fatal("expected not-found error, got nil")
	}
}

func TestTimestampMarkRepo_ListForUserOnTimer_DecodesMeta(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "timer_id", "user_id", "saved_at", "remaining_at_save", "target_at_save", "meta"}).
		AddRow(1, "timer-1", "user-1", time.Now(), time.Minute, time.Now().Add(time.Minute), []byte(`{"note":"lap1"}`))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM timestamp_marks WHERE (timer_id = ?) AND (user_id = ?) ORDER BY saved_at DESC",
	)).WillReturnRows(rows)

	repo := NewTimestampMarkRepo(db)
	marks, err := repo.ListForUserOnTimer(context.Background(), "timer-1", "user-1")
	if err != nil {
		t.Fatalf("ListForUserOnTimer: %v", err)
	}
	if len(marks) != 1 || marks[0].Meta["note"] != "lap1" {
		t.Fatalf("marks = %+v", marks)
	}
}
