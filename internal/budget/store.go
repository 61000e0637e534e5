package budget

import (
	"context"
	"time"
)

// Store is the persistence contract of the budget engine. VehicleRole
// returns ErrVehicleNotFound when the vehicle does not exist or the user has
// no access to it; ReminderRule returns ErrRuleNotFound. Any other error is
// reported to callers as ErrStoreUnavailable.
type Store interface {
	VehicleRole(ctx context.Context, userID, vehicleID string) (VehicleRole, error)
	Expenses(ctx context.Context, vehicleID string, since time.Time) ([]Expense, error)
	ReminderRules(ctx context.Context, vehicleID string) ([]ReminderRule, error)
	ReminderRule(ctx context.Context, ruleID string) (ReminderRule, error)
	OdometerReadings(ctx context.Context, vehicleID string) ([]OdometerReading, error)

	// Reclassify loads every expense of the vehicle with its rows locked,
	// passes them to fn and writes the returned labels back in the same
	// transaction. It returns the number of rows updated.
	Reclassify(ctx context.Context, vehicleID string, fn func([]Expense) []Assignment) (int, error)

	// SaveReminderDue persists the reset and next-due fields of rule.
	SaveReminderDue(ctx context.Context, rule ReminderRule) error
}
