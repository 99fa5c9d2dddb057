package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/permissions"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(db), mock
}

var permCols = []string{"id", "user_id", "user_name", "is_admin", "edit_product", "delete_product", "add_product",
	"edit_price_history", "delete_price_history", "add_price_history", "created_at", "outcome"}

func TestResolveRetriesLostRace(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("with by_id as").
		WithArgs("u-1", "ada", "01HV8Z00000000000000000001").
		WillReturnRows(sqlmock.NewRows(permCols))
	mock.ExpectQuery("with by_id as").
		WithArgs("u-1", "ada", "01HV8Z00000000000000000001").
		WillReturnRows(sqlmock.NewRows(permCols).
			AddRow("01HV8Z00000000000000000002", "u-1", "ada", false, true, false, false, false, false, false, created, "found"))

	rec, outcome, err := store.Resolve(context.Background(), "u-1", "ada", "01HV8Z00000000000000000001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome != permissions.OutcomeFound || rec.ID != "01HV8Z00000000000000000002" || !rec.EditProduct {
		t.Fatalf("unexpected record %+v (%s)", rec, outcome)
	}
}

func TestResolveRetryOnUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("with by_id as").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectQuery("with by_id as").
		WillReturnRows(sqlmock.NewRows(permCols).
			AddRow("01HV8Z00000000000000000002", "u-1", "ada", false, false, false, false, false, false, false, created, "linked"))

	_, outcome, err := store.Resolve(context.Background(), "u-1", "ada", "01HV8Z00000000000000000001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome != permissions.OutcomeLinked {
		t.Fatalf("expected linked, got %s", outcome)
	}
}

func TestResolveGivesUp(t *testing.T) {
	store, mock := newMock(t)
	for i := 0; i < resolveAttempts; i++ {
		mock.ExpectQuery("with by_id as").WillReturnRows(sqlmock.NewRows(permCols))
	}
	if _, _, err := store.Resolve(context.Background(), "u-1", "ada", "x"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected wrapped ErrNoRows, got %v", err)
	}
}

func TestPermissionsDeleteMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("delete from user_permissions").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Delete(context.Background(), "r-1"); !errors.Is(err, permissions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogGroupsJoinedRows(t *testing.T) {
	store, mock := newMock(t)
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from product p\\s+left join pricehist h").
		WillReturnRows(sqlmock.NewRows([]string{"prodcode", "description", "unit", "deleted", "effdate", "unitprice", "seq"}).
			AddRow("A1", "Bolt", "box", false, d1, "10.00", int64(1)).
			AddRow("A1", "Bolt", "box", false, d2, "19.99", int64(4)).
			AddRow("B2", "Nut", "bag", true, nil, nil, nil))

	rows, err := store.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 products, got %d", len(rows))
	}
	if len(rows[0].Points) != 2 || len(rows[1].Points) != 0 {
		t.Fatalf("unexpected points: %+v", rows)
	}
	cur := catalog.CurrentPrice(rows[0].Points)
	if cur == nil || !cur.UnitPrice.Equal(decimal.RequireFromString("19.99")) || cur.EffectiveDate.String() != "2024-03-01" {
		t.Fatalf("unexpected current price %+v", cur)
	}
	if !rows[1].Deleted {
		t.Fatal("expected B2 deleted")
	}
}

func TestSetDeletedReportsState(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	productCols := []string{"prodcode", "description", "unit", "deleted"}

	mock.ExpectQuery("update product set deleted").WithArgs("A1", false).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select prodcode, description, unit, deleted from product").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(productCols).AddRow("A1", "Bolt", "box", false))
	if _, err := store.SetDeleted(ctx, "A1", false); !errors.Is(err, catalog.ErrNotDeleted) {
		t.Fatalf("expected ErrNotDeleted, got %v", err)
	}

	mock.ExpectQuery("update product set deleted").WithArgs("ZZ", true).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select prodcode, description, unit, deleted from product").WithArgs("ZZ").WillReturnError(sql.ErrNoRows)
	if _, err := store.SetDeleted(ctx, "ZZ", true); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("update product set deleted").WithArgs("A1", true).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow("A1", "Bolt", "box", true))
	p, err := store.SetDeleted(ctx, "A1", true)
	if err != nil || !p.Deleted {
		t.Fatalf("SetDeleted: %+v %v", p, err)
	}
}

func TestInsertPricePointErrors(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	date, _ := catalog.ParseDate("2024-03-01")
	point := catalog.PricePoint{ProductCode: "A1", EffectiveDate: date, UnitPrice: decimal.RequireFromString("19.99")}

	mock.ExpectQuery("insert into pricehist").WithArgs("A1", "2024-03-01", "19.99").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if _, err := store.InsertPricePoint(ctx, point); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectQuery("insert into pricehist").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if _, err := store.InsertPricePoint(ctx, point); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("insert into pricehist").WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(9)))
	got, err := store.InsertPricePoint(ctx, point)
	if err != nil || got.Seq != 9 {
		t.Fatalf("InsertPricePoint: %+v %v", got, err)
	}
}

func TestAccountErrors(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if _, err := store.CreateAccount(ctx, auth.Account{ID: "a", Email: "a@example.com"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectQuery("from sessions where id").WithArgs("garbage").WillReturnError(&pgconn.PgError{Code: pgErrInvalidText})
	if _, err := store.SessionByID(ctx, "garbage"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("update sessions set revoked_at").WithArgs("s-1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RevokeSession(ctx, "s-1", at); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
}

func TestAuditListFilters(t *testing.T) {
	store, mock := newMock(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from product_audit").WithArgs("Ed", "DELETED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_code", "product_name", "action", "performed_by", "timestamp"}).
			AddRow("01HV8Z00000000000000000009", "A1", "Bolt", "DELETED", "Ed", ts))

	records, err := store.Audit().List(context.Background(), audit.Filter{PerformedBy: "Ed", Action: audit.ActionDeleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Action != audit.ActionDeleted || !records[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected records %+v", records)
	}
}
