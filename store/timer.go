// Package store is the primary-storage repository layer: Timer,
// TimestampMark and CompletionLog rows in MySQL, built on the mysql
// package's phantom-typed query builder.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"timerfleet/model"
	"timerfleet/mysql"
)

const timersTable = "timers"

// TimerRepo persists Timer rows.
type TimerRepo struct {
	db *sqlx.DB
}

func NewTimerRepo(db *sqlx.DB) *TimerRepo {
	return &TimerRepo{db: db}
}

func (r *TimerRepo) Create(ctx context.Context, t model.Timer) error {
	_, err := mysql.InsertFrom(timersTable).
		Columns("timer_id", "owner_id", "target_instant", "created_at", "updated_at", "completed", "completed_at", "share_token").
		Values(t.TimerID, t.OwnerID, t.TargetInstant, t.CreatedAt, t.UpdatedAt, t.Completed, t.CompletedAt, t.ShareToken).
		Exec(ctx, r.db)
	if err != nil {
		return errors.Wrap(err, "store: create timer")
	}
	return nil
}

func (r *TimerRepo) GetByID(ctx context.Context, timerID string) (model.Timer, error) {
	t, err := mysql.SelectFrom[model.Timer](timersTable).
		Where(mysql.Eq("timer_id", timerID)).
		Fetch(ctx, r.db)
	if err != nil {
		return model.Timer{}, mapNotFound(err)
	}
	return t, nil
}

func (r *TimerRepo) GetByShareToken(ctx context.Context, token string) (model.Timer, error) {
	t, err := mysql.SelectFrom[model.Timer](timersTable).
		Where(mysql.Eq("share_token", token)).
		Fetch(ctx, r.db)
	if err != nil {
		return model.Timer{}, mapNotFound(err)
	}
	return t, nil
}

// UpdateTarget changes TargetInstant on a non-completed timer. Returns
// model.ErrConflict if the timer is already completed (rows affected = 0
// distinguishes "completed" from "not found", resolved by the caller via a
// prior GetByID).
func (r *TimerRepo) UpdateTarget(ctx context.Context, timerID string, target time.Time, updatedAt time.Time) error {
	affected, err := mysql.UpdateFrom(timersTable).
		Set(
			mysql.UpdateCond{Set: "target_instant", Arg: target},
			mysql.UpdateCond{Set: "updated_at", Arg: updatedAt},
		).
		Where(mysql.And(mysql.Eq("timer_id", timerID), mysql.Eq("completed", false))).
		Exec(ctx, r.db)
	if err != nil {
		return errors.Wrap(err, "store: update timer target")
	}
	if affected == 0 {
		return errors.Mark(errors.New("timer completed or missing"), model.ErrConflict)
	}
	return nil
}

// MarkCompleted is the completion transaction's storage half, reached both
// from the completion mutex holder's signal and from an owner's
// force-complete. The completed=false filter keeps it idempotent against
// repeated calls; it does not report whether a row was changed.
func (r *TimerRepo) MarkCompleted(ctx context.Context, timerID string, completedAt time.Time) error {
	_, err := mysql.UpdateFrom(timersTable).
		Set(
			mysql.UpdateCond{Set: "completed", Arg: true},
			mysql.UpdateCond{Set: "completed_at", Arg: completedAt},
			mysql.UpdateCond{Set: "updated_at", Arg: completedAt},
		).
		Where(mysql.And(mysql.Eq("timer_id", timerID), mysql.Eq("completed", false))).
		Exec(ctx, r.db)
	if err != nil {
		return errors.Wrap(err, "store: mark timer completed")
	}
	return nil
}

// PendingExpired lists timers whose target has passed within the last
// window but which are not yet marked completed — the Reconciliation
// Monitor's candidate set (4.E step 1).
func (r *TimerRepo) PendingExpired(ctx context.Context, windowStart, now time.Time) ([]model.Timer, error) {
	rows, err := mysql.SelectFrom[model.Timer](timersTable).
		Where(mysql.And(
			mysql.Eq("completed", false),
			mysql.Lt("target_instant", now),
			mysql.Gte("target_instant", windowStart),
		)).
		FetchAll(ctx, r.db)
	if err != nil {
		return nil, errors.Wrap(err, "store: query pending expired timers")
	}
	return rows, nil
}

// DeleteOlderThan implements the retention janitor's sweep (SPEC_FULL §
// supplemental features): completed timers past the retention window are
// purged along with their TimestampMarks via ON DELETE CASCADE.
func (r *TimerRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	affected, err := mysql.DeleteFrom(timersTable).
		Where(mysql.And(mysql.Eq("completed", true), mysql.Lt("completed_at", cutoff))).
		Exec(ctx, r.db)
	if err != nil {
		return 0, errors.Wrap(err, "store: delete expired timers")
	}
	return affected, nil
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(errors.New("timer not found"), model.ErrNotFound)
	}
	return errors.Wrap(err, "store: query timer")
}
