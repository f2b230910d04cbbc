package mysql

import (
	"context"
	"github.com/DATA-DOG/go-sqlmock"
	"regexp"
	"testing"
)

func TestInsertBuilder(t *testing.T) {
	ctx := context.Background()

	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	id := 3
	tenant_id := "tenant-1"
	name := "Takeo"
	email := "takeo@example.com"
	expectedSQL := "INSERT INTO users (id, tenant_id, name, email) VALUES (?, ?, ?, ?)"

	mock.ExpectExec(regexp.QuoteMeta(expectedSQL)).
		WithArgs(id, tenant_id, name, email).
		WillReturnResult(sqlmock.NewResult(3, 1))

	newID, err := InsertFrom("users").
		Columns("id", "tenant_id", "name", "email").
		Values(id, tenant_id, name, email).
		Exec(ctx, db)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if newID != 3 {
		t.Fatalf("newID = %d, want 3", newID)
	}
}

func TestInsertBuilder_RequiresColumnsAndValues(t *testing.T) {
	ctx := context.Background()
	db, _, cleanup := newMockDB(t)
	defer cleanup()

	if _, err := InsertFrom("users").Values(1).Exec(ctx, db); err != ErrColumnsRequired {
		t.Fatalf("err = %v, want ErrColumnsRequired", err)
	}
	if _, err := InsertFrom("users").Columns("id").Exec(ctx, db); err != ErrValuesRequired {
		t.Fatalf("err = %v, want ErrValuesRequired", err)
	}
}
