package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"timerfleet/model"
	"timerfleet/mysql"
)

const eventLogTable = "event_log"

// EventLogRepo persists the Fleet Event Bus's append-only audit trail
// (4.D step 3). Payloads arrive already encoded (zstd-compressed or plain
// JSON); this layer never inspects them.
type EventLogRepo struct {
	db *sqlx.DB
}

func NewEventLogRepo(db *sqlx.DB) *EventLogRepo {
	return &EventLogRepo{db: db}
}

func (r *EventLogRepo) Create(ctx context.Context, rec model.EventLogRecord) error {
	_, err := mysql.InsertFrom(eventLogTable).
		Columns("timer_id", "event_type", "event_id", "origin_server_id", "payload", "persisted_at").
		Values(rec.TimerID, rec.EventType, rec.EventID, rec.OriginServerID, rec.Payload, rec.PersistedAt).
		Exec(ctx, r.db)
	if err != nil {
		return errors.Wrap(err, "store: create event log record")
	}
	return nil
}

// DeleteOlderThan implements the ~1-year retention sweep for event_log rows,
// run alongside the timer retention janitor.
func (r *EventLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	affected, err := mysql.DeleteFrom(eventLogTable).
		Where(mysql.Lt("persisted_at", cutoff)).
		Exec(ctx, r.db)
	if err != nil {
		return 0, errors.Wrap(err, "store: delete expired event log records")
	}
	return affected, nil
}
