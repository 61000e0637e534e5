package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"motolog.org/internal/budget"
)

func (s *Store) VehicleRole(ctx context.Context, userID, vehicleID string) (budget.VehicleRole, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		select case when v.owner_id = $1 then 'OWNER' else coalesce(sh.role, '') end
		from vehicles v
		left join vehicle_shares sh on sh.vehicle_id = v.id and sh.user_id = $1
		where v.id = $2
	`, userID, vehicleID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) || isBadID(err) {
		return "", budget.ErrVehicleNotFound
	}
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", budget.ErrVehicleNotFound
	}
	return budget.VehicleRole(role), nil
}

const expenseColumns = `id, vehicle_id, category, amount, expense_date, expense_type, coalesce(note, '')`

func (s *Store) Expenses(ctx context.Context, vehicleID string, since time.Time) ([]budget.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+expenseColumns+`
		from expenses
		where vehicle_id = $1 and expense_date >= $2
		order by expense_date asc, id asc
	`, vehicleID, since)
	if err != nil {
		if isBadID(err) {
			return nil, budget.ErrVehicleNotFound
		}
		return nil, err
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func (s *Store) Reclassify(ctx context.Context, vehicleID string, fn func([]budget.Expense) []budget.Assignment) (int, error) {
	var updated int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			select `+expenseColumns+`
			from expenses
			where vehicle_id = $1
			order by expense_date asc, id asc
			for update
		`, vehicleID)
		if err != nil {
			if isBadID(err) {
				return budget.ErrVehicleNotFound
			}
			return err
		}
		expenses, err := scanExpenses(rows)
		_ = rows.Close()
		if err != nil {
			return err
		}

		labels := fn(expenses)
		if len(labels) == 0 {
			return nil
		}
		payload, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("encode labels: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			update expenses e
			set expense_type = x.expense_type
			from jsonb_to_recordset($2::jsonb) as x(id uuid, expense_type text)
			where e.vehicle_id = $1 and e.id = x.id
		`, vehicleID, string(payload))
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = int(aff)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

const ruleColumns = `id, vehicle_id, name, service_type, is_recurring, due_every_days, due_every_km,
	last_reset_at, last_reset_odometer_km, next_due_date, next_due_odometer_km, status,
	auto_reset_on_service, estimated_cost`

func (s *Store) ReminderRules(ctx context.Context, vehicleID string) ([]budget.ReminderRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+ruleColumns+`
		from reminder_rules
		where vehicle_id = $1
		order by created_at asc, id asc
	`, vehicleID)
	if err != nil {
		if isBadID(err) {
			return nil, budget.ErrVehicleNotFound
		}
		return nil, err
	}
	defer rows.Close()

	var out []budget.ReminderRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReminderRule(ctx context.Context, ruleID string) (budget.ReminderRule, error) {
	row := s.db.QueryRowContext(ctx, `select `+ruleColumns+` from reminder_rules where id = $1`, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) || isBadID(err) {
		return budget.ReminderRule{}, budget.ErrRuleNotFound
	}
	return r, err
}

// SaveReminderDue writes the reset fields. greatest() keeps next-due values
// from moving backwards even if two renewals race.
func (s *Store) SaveReminderDue(ctx context.Context, rule budget.ReminderRule) error {
	res, err := s.db.ExecContext(ctx, `
		update reminder_rules set
			last_reset_at = $2,
			last_reset_odometer_km = coalesce($3, last_reset_odometer_km),
			next_due_date = greatest(next_due_date, $4),
			next_due_odometer_km = greatest(next_due_odometer_km, $5),
			updated_at = now()
		where id = $1
	`, rule.ID, nullTime(rule.LastResetAt), nullFloat(rule.LastResetOdometerKm),
		nullTime(rule.NextDueDate), nullFloat(rule.NextDueOdometerKm))
	if err != nil {
		if isBadID(err) {
			return budget.ErrRuleNotFound
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return budget.ErrRuleNotFound
	}
	return nil
}

func (s *Store) OdometerReadings(ctx context.Context, vehicleID string) ([]budget.OdometerReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		select reading_date, value_km
		from odometer_entries
		where vehicle_id = $1
		order by reading_date asc
	`, vehicleID)
	if err != nil {
		if isBadID(err) {
			return nil, budget.ErrVehicleNotFound
		}
		return nil, err
	}
	defer rows.Close()

	var out []budget.OdometerReading
	for rows.Next() {
		var r budget.OdometerReading
		if err := rows.Scan(&r.Date, &r.ValueKm); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanExpenses(rows *sql.Rows) ([]budget.Expense, error) {
	var out []budget.Expense
	for rows.Next() {
		var (
			e        budget.Expense
			category string
			typ      string
		)
		if err := rows.Scan(&e.ID, &e.VehicleID, &category, &e.Amount, &e.Date, &typ, &e.Note); err != nil {
			return nil, err
		}
		e.Category = budget.Category(category)
		e.Type = budget.ExpenseType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (budget.ReminderRule, error) {
	var (
		r           budget.ReminderRule
		serviceType sql.NullString
		everyDays   sql.NullInt64
		everyKm     sql.NullInt64
		lastAt      sql.NullTime
		lastKm      sql.NullFloat64
		nextAt      sql.NullTime
		nextKm      sql.NullFloat64
		status      string
	)
	if err := row.Scan(&r.ID, &r.VehicleID, &r.Name, &serviceType, &r.IsRecurring, &everyDays, &everyKm,
		&lastAt, &lastKm, &nextAt, &nextKm, &status, &r.AutoResetOnService, &r.EstimatedCost); err != nil {
		return budget.ReminderRule{}, err
	}
	r.ServiceType = stringPtr(serviceType)
	r.DueEveryDays = intPtr(everyDays)
	r.DueEveryKm = intPtr(everyKm)
	r.LastResetAt = timePtr(lastAt)
	r.LastResetOdometerKm = floatPtr(lastKm)
	r.NextDueDate = timePtr(nextAt)
	r.NextDueOdometerKm = floatPtr(nextKm)
	r.Status = budget.RuleStatus(status)
	return r, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
