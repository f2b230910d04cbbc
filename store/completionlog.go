package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"timerfleet/model"
	"timerfleet/mysql"
)

const completionLogsTable = "completion_logs"

// CompletionLogRepo persists one row per server per expiry-notification
// attempt. The Reconciliation Monitor (4.E) reads this table to classify
// missed and duplicate completions; it is never read on the completion hot
// path itself.
type CompletionLogRepo struct {
	db *sqlx.DB
}

func NewCompletionLogRepo(db *sqlx.DB) *CompletionLogRepo {
	return &CompletionLogRepo{db: db}
}

func (r *CompletionLogRepo) Create(ctx context.Context, l model.CompletionLog) (int64, error) {
	id, err := mysql.InsertFrom(completionLogsTable).
		Columns(
			"timer_id", "server_id", "notification_received_at",
			"processing_started_at", "processing_completed_at",
			"lock_acquired", "success", "error_message",
			"original_target_instant", "processing_delay_millis",
		).
		Values(
			l.TimerID, l.ServerID, l.NotificationReceivedAt,
			l.ProcessingStartedAt, l.ProcessingCompletedAt,
			l.LockAcquired, l.Success, l.ErrorMessage,
			l.OriginalTargetInstant, l.ProcessingDelayMillis,
		).
		Exec(ctx, r.db)
	if err != nil {
		return 0, errors.Wrap(err, "store: create completion log")
	}
	return id, nil
}

// Update records a started/finished processing attempt after Create wrote
// the notification-received row; distinct from Create because the mutex
// outcome and processing result are only known after the fact.
func (r *CompletionLogRepo) Update(ctx context.Context, id int64, l model.CompletionLog) error {
	_, err := mysql.UpdateFrom(completionLogsTable).
		Set(
			mysql.UpdateCond{Set: "processing_started_at", Arg: l.ProcessingStartedAt},
			mysql.UpdateCond{Set: "processing_completed_at", Arg: l.ProcessingCompletedAt},
			mysql.UpdateCond{Set: "lock_acquired", Arg: l.LockAcquired},
			mysql.UpdateCond{Set: "success", Arg: l.Success},
			mysql.UpdateCond{Set: "error_message", Arg: l.ErrorMessage},
			mysql.UpdateCond{Set: "processing_delay_millis", Arg: l.ProcessingDelayMillis},
		).
		Where(mysql.Eq("id", id)).
		Exec(ctx, r.db)
	if err != nil {
		return errors.Wrap(err, "store: update completion log")
	}
	return nil
}

// ByTimer lists every completion attempt recorded for a timer, across all
// servers that raced for its expiry.
func (r *CompletionLogRepo) ByTimer(ctx context.Context, timerID string) ([]model.CompletionLog, error) {
	rows, err := mysql.SelectFrom[model.CompletionLog](completionLogsTable).
		Where(mysql.Eq("timer_id", timerID)).
		OrderBy(&mysql.OrderbyCond{Column: "notification_received_at", Direction: mysql.ASC}).
		FetchAll(ctx, r.db)
	if err != nil {
		return nil, errors.Wrap(err, "store: list completion logs")
	}
	return rows, nil
}

// InWindow lists logs whose notification arrived within [start, end), the
// reconciliation monitor's query granularity.
func (r *CompletionLogRepo) InWindow(ctx context.Context, start, end time.Time) ([]model.CompletionLog, error) {
	rows, err := mysql.SelectFrom[model.CompletionLog](completionLogsTable).
		Where(mysql.And(mysql.Gte("notification_received_at", start), mysql.Lt("notification_received_at", end))).
		OrderBy(&mysql.OrderbyCond{Column: "notification_received_at", Direction: mysql.ASC}).
		FetchAll(ctx, r.db)
	if err != nil {
		return nil, errors.Wrap(err, "store: query completion logs in window")
	}
	return rows, nil
}
