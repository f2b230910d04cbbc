package mysql

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type deleteBuilder struct {
	table string
	where *WhereCond
}

type DeleteWithoutWhere struct{ builder deleteBuilder }
type DeleteWithWhere struct{ builder deleteBuilder }

// DeleteFrom initializes a DeleteBuilder for the given table.
func DeleteFrom(table string) DeleteWithoutWhere {
	return DeleteWithoutWhere{builder: deleteBuilder{table: table}}
}

// Where sets the WHERE condition and unlocks Exec.
func (d DeleteWithoutWhere) Where(c *WhereCond) DeleteWithWhere {
	d.builder.where = c
	return DeleteWithWhere{builder: d.builder}
}

// Exec runs the DELETE and returns the affected row count.
func (d DeleteWithWhere) Exec(ctx context.Context, db *sqlx.DB) (int64, error) {
	q, args, err := d.builder.build()
	if err != nil {
		return 0, err
	}
	q = db.Rebind(q)

	logrus.WithFields(logrus.Fields{"query": q, "args": args}).Debug("mysql delete")

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b deleteBuilder) build() (string, []any, error) {
	if b.where == nil {
		return "", nil, ErrWhereRequired
	}
	if !safeIdent(b.table) {
		return "", nil, errors.New("unsafe table: " + b.table)
	}

	sb := strings.Builder{}
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table)
	sb.WriteString(" WHERE ")
	sb.WriteString(b.where.GetSQL())

	return sb.String(), b.where.args, nil
}
