package mysql

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrSetRequired = errors.New("update requires set")

type updateBuilder struct {
	table string
	sets  []UpdateCond
	where *WhereCond
}

// UpdateWithoutWhere / UpdateWithWhere mirror select.go's phantom-state
// pattern: Where() is only reachable before Exec(), and Exec() is only
// reachable after Where(), enforced at compile time rather than at runtime.
type UpdateWithoutWhere struct{ builder updateBuilder }
type UpdateWithWhere struct{ builder updateBuilder }

// UpdateFrom initializes an UpdateBuilder for the given table.
func UpdateFrom(table string) UpdateWithoutWhere {
	return UpdateWithoutWhere{builder: updateBuilder{table: table}}
}

// Set appends one or more UpdateCond entries to the builder.
func (u UpdateWithoutWhere) Set(conds ...UpdateCond) UpdateWithoutWhere {
	u.builder.sets = append(u.builder.sets, conds...)
	return u
}

func (u UpdateWithWhere) Set(conds ...UpdateCond) UpdateWithWhere {
	u.builder.sets = append(u.builder.sets, conds...)
	return u
}

// Where sets the WHERE condition and unlocks Exec.
func (u UpdateWithoutWhere) Where(c *WhereCond) UpdateWithWhere {
	u.builder.where = c
	return UpdateWithWhere{builder: u.builder}
}

// Exec runs the UPDATE and returns the affected row count.
func (u UpdateWithWhere) Exec(ctx context.Context, db *sqlx.DB) (int64, error) {
	q, args, err := u.builder.build()
	if err != nil {
		return 0, err
	}
	q = db.Rebind(q)

	logrus.WithFields(logrus.Fields{"query": q, "args": args}).Debug("mysql update")

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b updateBuilder) build() (string, []any, error) {
	if len(b.sets) == 0 {
		return "", nil, ErrSetRequired
	}
	if b.where == nil {
		return "", nil, ErrWhereRequired
	}
	if !safeIdent(b.table) {
		return "", nil, errors.New("unsafe table: " + b.table)
	}

	setStrs := make([]string, 0, len(b.sets))
	setArgs := make([]any, 0, len(b.sets))
	for _, s := range b.sets {
		setStrs = append(setStrs, s.Set+" = ?")
		setArgs = append(setArgs, s.Arg)
	}

	sb := strings.Builder{}
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(setStrs, ", "))
	sb.WriteString(" WHERE ")
	sb.WriteString(b.where.GetSQL())

	return sb.String(), append(setArgs, b.where.args...), nil
}
