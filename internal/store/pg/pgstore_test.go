package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var userCols = []string{"id", "email", "password_hash", "display_name", "created_at", "updated_at"}

func TestInsertUserDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into users").
		WithArgs("u1", "a@example.com", "hash", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Insert(context.Background(), &auth.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash"})
	if !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	expectMet(t, mock)
}

func TestInsertUserPassesThroughOtherErrors(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into users").WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), &auth.User{ID: "u1", Email: "a@example.com"})
	if err == nil || errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("expected raw error, got %v", err)
	}
	expectMet(t, mock)
}

func TestFindByEmail(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("from users where lower(email) = lower($1)")).
		WithArgs("rider@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "rider@example.com", "hash", nil, created, created))

	u, err := store.FindByEmail(context.Background(), " rider@example.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.DisplayName != nil || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", u)
	}
	expectMet(t, mock)
}

func TestFindByIDNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("from users where id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userCols))

	if _, err := store.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestFindByIDMalformedUUID(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("from users where id = $1")).
		WillReturnError(&pgconn.PgError{Code: pgErrInvalidTextRepr})

	if _, err := store.FindByID(context.Background(), "not-a-uuid"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestUpdateProfileReturnsUser(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	name := "Rider"
	mock.ExpectQuery("update users set display_name").
		WithArgs("u1", "Rider").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@example.com", "hash", "Rider", now, now))

	u, err := store.UpdateProfile(context.Background(), "u1", &name)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if u.DisplayName == nil || *u.DisplayName != "Rider" {
		t.Fatalf("unexpected display name: %v", u.DisplayName)
	}
	expectMet(t, mock)
}

func TestUpdatePasswordMissingUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update users set password_hash").
		WithArgs("u1", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdatePassword(context.Background(), "u1", "new-hash"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC()
	created := time.Now().UTC()

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("jti-1", "u1", exp, created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("from refresh_tokens where id").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at", "revoked"}).
			AddRow("jti-1", "u1", exp, created, false))
	mock.ExpectExec("update refresh_tokens set revoked_at = now\\(\\) where id = \\$1 and revoked_at is null").
		WithArgs("jti-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked_at = now\\(\\) where user_id").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.Create(ctx, &auth.RefreshToken{ID: "jti-1", UserID: "u1", ExpiresAt: exp, CreatedAt: created}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tok, err := store.Find(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tok.UserID != "u1" || tok.Revoked {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if err := store.MarkRevoked(ctx, "jti-1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if err := store.MarkRevokedByUser(ctx, "u1"); err != nil {
		t.Fatalf("MarkRevokedByUser: %v", err)
	}
	expectMet(t, mock)
}

func TestMarkRevokedUnknownToken(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update refresh_tokens").WithArgs("nope").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := store.MarkRevoked(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestMarkRevokedTwice(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update refresh_tokens").WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := store.MarkRevoked(context.Background(), "jti-1"); !errors.Is(err, auth.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
	expectMet(t, mock)
}

func TestVehicleRole(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("from vehicles v").WithArgs("u1", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("OWNER"))
	mock.ExpectQuery("from vehicles v").WithArgs("u2", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(""))
	mock.ExpectQuery("from vehicles v").WithArgs("u1", "v9").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	role, err := store.VehicleRole(ctx, "u1", "v1")
	if err != nil || role != budget.RoleOwner {
		t.Fatalf("expected OWNER, got %q, %v", role, err)
	}
	if _, err := store.VehicleRole(ctx, "u2", "v1"); !errors.Is(err, budget.ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound for stranger, got %v", err)
	}
	if _, err := store.VehicleRole(ctx, "u1", "v9"); !errors.Is(err, budget.ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound for missing vehicle, got %v", err)
	}
	expectMet(t, mock)
}

var expenseCols = []string{"id", "vehicle_id", "category", "amount", "expense_date", "expense_type", "note"}

func TestExpensesScansDecimal(t *testing.T) {
	store, mock := newMock(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from expenses").
		WithArgs("v1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(expenseCols).
			AddRow("e1", "v1", "FUEL", "45.90", day, "REGULAR", "").
			AddRow("e2", "v1", "SERVICE", "1200.00", day, "IRREGULAR_MEDIUM", "tyres"))

	got, err := store.Expenses(context.Background(), "v1", time.Time{})
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 expenses, got %d", len(got))
	}
	if got[0].Amount.String() != "45.9" || got[0].Category != budget.CategoryFuel {
		t.Fatalf("unexpected first expense: %+v", got[0])
	}
	if got[1].Type != budget.TypeIrregularMedium || got[1].Note != "tyres" {
		t.Fatalf("unexpected second expense: %+v", got[1])
	}
	expectMet(t, mock)
}

func TestReclassifySingleStatementInTx(t *testing.T) {
	store, mock := newMock(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(expenseCols).
			AddRow("e1", "v1", "FUEL", "40", day, "REGULAR", "").
			AddRow("e2", "v1", "FUEL", "50", day, "REGULAR", ""))
	mock.ExpectExec("update expenses e").
		WithArgs("v1", `[{"id":"e1","expense_type":"REGULAR"},{"id":"e2","expense_type":"IRREGULAR_LARGE"}]`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.Reclassify(context.Background(), "v1", func(rows []budget.Expense) []budget.Assignment {
		if len(rows) != 2 {
			t.Fatalf("expected 2 locked rows, got %d", len(rows))
		}
		return []budget.Assignment{
			{ExpenseID: "e1", Type: budget.TypeRegular},
			{ExpenseID: "e2", Type: budget.TypeIrregularLarge},
		}
	})
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updated rows, got %d", n)
	}
	expectMet(t, mock)
}

func TestReclassifyRollsBackOnUpdateFailure(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").
		WillReturnRows(sqlmock.NewRows(expenseCols).
			AddRow("e1", "v1", "FUEL", "40", time.Now(), "REGULAR", ""))
	mock.ExpectExec("update expenses e").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := store.Reclassify(context.Background(), "v1", func(rows []budget.Expense) []budget.Assignment {
		return []budget.Assignment{{ExpenseID: "e1", Type: budget.TypeRegular}}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	expectMet(t, mock)
}

func TestReclassifyNoExpensesSkipsUpdate(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WillReturnRows(sqlmock.NewRows(expenseCols))
	mock.ExpectCommit()

	n, err := store.Reclassify(context.Background(), "v1", func(rows []budget.Expense) []budget.Assignment { return nil })
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows and no error, got %d, %v", n, err)
	}
	expectMet(t, mock)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = store.withTx(context.Background(), func(tx *sql.Tx) error {
			panic("boom")
		})
	}()
	expectMet(t, mock)
}

var ruleCols = []string{
	"id", "vehicle_id", "name", "service_type", "is_recurring", "due_every_days", "due_every_km",
	"last_reset_at", "last_reset_odometer_km", "next_due_date", "next_due_odometer_km", "status",
	"auto_reset_on_service", "estimated_cost",
}

func TestReminderRuleScansNullable(t *testing.T) {
	store, mock := newMock(t)
	next := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("from reminder_rules where id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(ruleCols).
			AddRow("r1", "v1", "Oil change", nil, true, int64(180), nil, nil, nil, next, nil, "ACTIVE", false, "89.90"))

	r, err := store.ReminderRule(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ReminderRule: %v", err)
	}
	if r.DueEveryDays == nil || *r.DueEveryDays != 180 || r.DueEveryKm != nil {
		t.Fatalf("unexpected intervals: %+v", r)
	}
	if r.NextDueDate == nil || !r.NextDueDate.Equal(next) || r.LastResetAt != nil {
		t.Fatalf("unexpected dates: %+v", r)
	}
	if r.EstimatedCost.String() != "89.9" || r.Status != budget.RuleActive {
		t.Fatalf("unexpected rule: %+v", r)
	}
	expectMet(t, mock)
}

func TestReminderRuleNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from reminder_rules").WillReturnRows(sqlmock.NewRows(ruleCols))

	if _, err := store.ReminderRule(context.Background(), "r9"); !errors.Is(err, budget.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestSaveReminderDue(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	next := at.AddDate(0, 0, 90)
	mock.ExpectExec("update reminder_rules set").
		WithArgs("r1", at, nil, next, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update reminder_rules set").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rule := budget.ReminderRule{ID: "r1", LastResetAt: &at, NextDueDate: &next}
	if err := store.SaveReminderDue(context.Background(), rule); err != nil {
		t.Fatalf("SaveReminderDue: %v", err)
	}
	rule.ID = "r2"
	if err := store.SaveReminderDue(context.Background(), rule); !errors.Is(err, budget.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestOdometerReadings(t *testing.T) {
	store, mock := newMock(t)
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from odometer_entries").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"reading_date", "value_km"}).
			AddRow(d1, 1000.0).
			AddRow(d2, 7000.0))

	got, err := store.OdometerReadings(context.Background(), "v1")
	if err != nil {
		t.Fatalf("OdometerReadings: %v", err)
	}
	if len(got) != 2 || got[1].ValueKm != 7000 {
		t.Fatalf("unexpected readings: %+v", got)
	}
	expectMet(t, mock)
}

func TestPingContextReportsDatabaseState(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := New(db)

	mock.ExpectPing()
	if err := store.PingContext(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := store.PingContext(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	expectMet(t, mock)

	if err := (&Store{}).PingContext(context.Background()); err == nil {
		t.Fatal("expected error without a connection")
	}
}
