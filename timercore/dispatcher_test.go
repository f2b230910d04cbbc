package timercore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"timerfleet/model"
	"timerfleet/store"
)

type fakePublisher struct {
	published []model.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, env model.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

type fakeLocalSink struct {
	dispatched []model.Envelope
}

func (f *fakeLocalSink) DispatchLocal(timerID string, env model.Envelope) {
	f.dispatched = append(f.dispatched, env)
}

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(raw, "mysql")
	return db, mock, func() { _ = db.Close() }
}

func newTestDispatcher(db *sqlx.DB, pub Publisher, local LocalSink) *Dispatcher {
	scheduleOut := make(chan model.ScheduleRequest, 8)
	return New(store.NewTimerRepo(db), store.NewTimestampMarkRepo(db), nil, pub, local, "server-a", scheduleOut)
}

func TestChangeTarget_ForbiddenForNonOwner(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}).
		AddRow("timer-1", "owner-1", time.Now().Add(time.Hour), time.Now(), time.Now(), false, nil, "tok")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).WillReturnRows(rows)

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	_, err := d.ChangeTarget(context.Background(), "timer-1", time.Now().Add(2*time.Hour), "someone-else")
	if err == nil {
		t.Fatal("expected forbidden error, got nil")
	}
}

func TestChangeTarget_ConflictWhenCompleted(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	completedAt := time.Now()
	rows := sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}).
		AddRow("timer-1", "owner-1", time.Now().Add(-time.Hour), time.Now(), time.Now(), true, completedAt, "tok")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).WillReturnRows(rows)

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	_, err := d.ChangeTarget(context.Background(), "timer-1", time.Now().Add(time.Hour), "owner-1")
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestChangeTarget_InvalidWhenTargetInPast(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}).
		AddRow("timer-1", "owner-1", time.Now().Add(time.Hour), time.Now(), time.Now(), false, nil, "tok")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).WillReturnRows(rows)

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	_, err := d.ChangeTarget(context.Background(), "timer-1", time.Now().Add(-time.Minute), "owner-1")
	if err == nil {
		t.Fatal("expected invalid error, got nil")
	}
}

func TestForceComplete_ForbiddenForNonOwner(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}).
		AddRow("timer-1", "owner-1", time.Now().Add(-time.Hour), time.Now(), time.Now(), false, nil, "tok")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).WillReturnRows(rows)

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	err := d.ForceComplete(context.Background(), "timer-1", "someone-else")
	if err == nil {
		t.Fatal("expected forbidden error, got nil")
	}
}

func TestHistory_PropagatesNotFound(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}))

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	if _, err := d.History(context.Background(), "missing-timer"); err == nil {
		t.Fatal("expected not-found error, got nil")
	}
}

func TestUserHistory_PropagatesNotFound(t *testing.T) {
	db, mock, cleanup := newTestDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM timers WHERE timer_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token"}))

	d := newTestDispatcher(db, &fakePublisher{}, &fakeLocalSink{})
	if _, err := d.UserHistory(context.Background(), "missing-timer", "user-1"); err == nil {
		t.Fatal("expected not-found error, got nil")
	}
}

func TestOnSharedAccess_PublishesAndDispatchesLocally(t *testing.T) {
	db, _, cleanup := newTestDB(t)
	defer cleanup()

	pub := &fakePublisher{}
	local := &fakeLocalSink{}
	d := newTestDispatcher(db, pub, local)

	d.OnSharedAccess(context.Background(), "timer-1", "joiner-1")

	if len(pub.published) != 1 || pub.published[0].EventType != model.EventSharedTimerAccessed {
		t.Fatalf("published = %+v", pub.published)
	}
	if len(local.dispatched) != 1 {
		t.Fatalf("dispatched = %+v", local.dispatched)
	}
}
