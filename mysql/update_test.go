package mysql

import (
	"context"
	"github.com/DATA-DOG/go-sqlmock"
	"regexp"
	"testing"
)

func TestUpdateBuilder(t *testing.T) {
	ctx := context.Background()

	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	name := "Alice"
	tenant_id := "tenant-1"
	expectedSQL := "UPDATE users SET name = ? WHERE tenant_id = ?"

	mock.ExpectExec(regexp.QuoteMeta(expectedSQL)).
		WithArgs(name, tenant_id).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := UpdateFrom("users").
		Set(UpdateCond{Set: "name", Arg: name}).
		Where(Eq("tenant_id", tenant_id)).
		Exec(ctx, db)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}
}

func TestUpdateBuilder_MultipleSets(t *testing.T) {
	ctx := context.Background()

	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	name := "Alice"
	tenant_id := "tenant-1"
	email := "alice@example.com"
	expectedSQL := "UPDATE users SET name = ?, email = ? WHERE tenant_id = ?"

	mock.ExpectExec(regexp.QuoteMeta(expectedSQL)).
		WithArgs(name, email, tenant_id).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := UpdateFrom("users").
		Set(UpdateCond{Set: "name", Arg: name}, UpdateCond{Set: "email", Arg: email}).
		Where(Eq("tenant_id", tenant_id)).
		Exec(ctx, db)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}
}

func TestUpdateBuilder_RequiresSet(t *testing.T) {
	ctx := context.Background()
	db, _, cleanup := newMockDB(t)
	defer cleanup()

	_, err := UpdateFrom("users").Where(Eq("tenant_id", "tenant-1")).Exec(ctx, db)
	if err != ErrSetRequired {
		t.Fatalf("err = %v, want ErrSetRequired", err)
	}
}
