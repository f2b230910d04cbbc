package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"timerfleet/model"
	"timerfleet/mysql"
)

const timestampMarksTable = "timestamp_marks"

// TimestampMarkRepo persists append-only TimestampMark rows, one per
// (timerId, userId) save.
type TimestampMarkRepo struct {
	db *sqlx.DB
}

func NewTimestampMarkRepo(db *sqlx.DB) *TimestampMarkRepo {
	return &TimestampMarkRepo{db: db}
}

func (r *TimestampMarkRepo) Create(ctx context.Context, m model.TimestampMark) (int64, error) {
	metaJSON, err := json.Marshal(m.Meta)
	if err != nil {
		return 0, errors.Wrap(err, "store: marshal timestamp mark meta")
	}

	id, err := mysql.InsertFrom(timestampMarksTable).
		Columns("timer_id", "user_id", "saved_at", "remaining_at_save", "target_at_save", "meta").
		Values(m.TimerID, m.UserID, m.SavedAt, m.RemainingAtSave, m.TargetAtSave, metaJSON).
		Exec(ctx, r.db)
	if err != nil {
		return 0, errors.Wrap(err, "store: create timestamp mark")
	}
	return id, nil
}

// LatestForUser returns the most recent save for a (timerId, userId) pair,
// or model.ErrNotFound if the user never saved on this timer.
func (r *TimestampMarkRepo) LatestForUser(ctx context.Context, timerID, userID string) (model.TimestampMark, error) {
	rows, err := mysql.SelectFrom[model.TimestampMark](timestampMarksTable).
		Where(mysql.And(mysql.Eq("timer_id", timerID), mysql.Eq("user_id", userID))).
		OrderBy(&mysql.OrderbyCond{Column: "saved_at", Direction: mysql.DESC}).
		Limit(1).
		FetchAll(ctx, r.db)
	if err != nil {
		return model.TimestampMark{}, errors.Wrap(err, "store: query latest timestamp mark")
	}
	if len(rows) == 0 {
		return model.TimestampMark{}, errors.Mark(errors.New("no timestamp mark"), model.ErrNotFound)
	}
	return decodeMeta(rows[0])
}

// ListForUserOnTimer returns every save a user made on a timer, newest
// first (`GET /timers/{id}/users/{userId}/history`).
func (r *TimestampMarkRepo) ListForUserOnTimer(ctx context.Context, timerID, userID string) ([]model.TimestampMark, error) {
	rows, err := mysql.SelectFrom[model.TimestampMark](timestampMarksTable).
		Where(mysql.And(mysql.Eq("timer_id", timerID), mysql.Eq("user_id", userID))).
		OrderBy(&mysql.OrderbyCond{Column: "saved_at", Direction: mysql.DESC}).
		FetchAll(ctx, r.db)
	if err != nil {
		return nil, errors.Wrap(err, "store: list timestamp marks for user")
	}
	out := make([]model.TimestampMark, 0, len(rows))
	for _, row := range rows {
		decoded, err := decodeMeta(row)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// ListForTimer returns every save for a timer, newest first.
func (r *TimestampMarkRepo) ListForTimer(ctx context.Context, timerID string) ([]model.TimestampMark, error) {
	rows, err := mysql.SelectFrom[model.TimestampMark](timestampMarksTable).
		Where(mysql.Eq("timer_id", timerID)).
		OrderBy(&mysql.OrderbyCond{Column: "saved_at", Direction: mysql.DESC}).
		FetchAll(ctx, r.db)
	if err != nil {
		return nil, errors.Wrap(err, "store: list timestamp marks")
	}
	out := make([]model.TimestampMark, 0, len(rows))
	for _, row := range rows {
		decoded, err := decodeMeta(row)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func decodeMeta(m model.TimestampMark) (model.TimestampMark, error) {
	if len(m.MetaJSON) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(m.MetaJSON, &m.Meta); err != nil {
		return model.TimestampMark{}, errors.Wrap(err, "store: unmarshal timestamp mark meta")
	}
	return m, nil
}
