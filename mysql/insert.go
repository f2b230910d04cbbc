package mysql

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrValuesRequired = errors.New("insert requires values")
var ErrColumnsRequired = errors.New("insert requires columns")

type InsertBuilder struct {
	table string
	cols  []string
	args  []any
}

// InsertFrom initializes an InsertBuilder for the given table.
func InsertFrom(table string) InsertBuilder {
	return InsertBuilder{table: table}
}

// Columns sets the explicit column list the VALUES tuple below is bound to,
// positionally. Explicit columns (rather than bare VALUES(...)) keep insert
// order independent of struct field order.
func (b InsertBuilder) Columns(cols ...string) InsertBuilder {
	b.cols = cols
	return b
}

// Values sets the positional argument list, one per column.
func (b InsertBuilder) Values(args ...any) InsertBuilder {
	b.args = args
	return b
}

// Exec runs the INSERT and returns the auto-increment id of the new row.
func (b InsertBuilder) Exec(ctx context.Context, db *sqlx.DB) (int64, error) {
	q, args, err := b.build()
	if err != nil {
		return 0, err
	}
	q = db.Rebind(q)

	logrus.WithFields(logrus.Fields{"query": q, "args": args}).Debug("mysql insert")

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b InsertBuilder) build() (string, []any, error) {
	if len(b.cols) == 0 {
		return "", nil, ErrColumnsRequired
	}
	if len(b.args) == 0 {
		return "", nil, ErrValuesRequired
	}
	if len(b.cols) != len(b.args) {
		return "", nil, errors.New("insert: column/value count mismatch")
	}
	if !safeIdent(b.table) {
		return "", nil, errors.New("unsafe table: " + b.table)
	}
	for _, c := range b.cols {
		if !safeIdent(c) {
			return "", nil, errors.New("unsafe column: " + c)
		}
	}

	placeholders := make([]string, len(b.args))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	sb := strings.Builder{}
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(")")

	return sb.String(), b.args, nil
}
