package main

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/store/memory"
)

// Ids match the SQL seed so tooling such as cmd/smoke works against both.
const (
	demoUserID    = "00000000-0000-4000-8000-000000000001"
	demoVehicleID = "00000000-0000-4000-8000-0000000000a1"
	demoEmail     = "demo@motolog.dev"
	demoPassword  = "motolog-demo"
)

// seedDemo loads the same demo account the SQL seed creates, so the
// in-memory mode has something to forecast.
func seedDemo(ctx context.Context, store *memory.Store) error {
	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	name := "Demo Rider"
	user := &auth.User{
		ID:           demoUserID,
		Email:        demoEmail,
		PasswordHash: hash,
		DisplayName:  &name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Insert(ctx, user); err != nil {
		return err
	}

	vehicleID := demoVehicleID
	store.PutVehicle(vehicleID, user.ID, "Demo bike")
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := 1; m <= 12; m++ {
		_, err := store.AddExpense(budget.Expense{
			VehicleID: vehicleID,
			Category:  budget.CategoryFuel,
			Amount:    decimal.NewFromInt(int64(180 + (m%3)*15)),
			Date:      monthStart.AddDate(0, -m, 4),
			Note:      "monthly fuel",
		})
		if err != nil {
			return err
		}
	}
	if _, err := store.AddExpense(budget.Expense{
		VehicleID: vehicleID,
		Category:  budget.CategoryFuel,
		Amount:    decimal.NewFromInt(4200),
		Date:      now.AddDate(0, -4, 0),
		Note:      "fuel card mix-up",
	}); err != nil {
		return err
	}

	every, everyKm := 365, 6000
	service := "OIL"
	lastReset := now.AddDate(0, 0, -300)
	nextDue := now.AddDate(0, 0, 65)
	lastKm, nextKm := 18000.0, 24000.0
	if _, err := store.AddReminderRule(budget.ReminderRule{
		VehicleID:           vehicleID,
		Name:                "Oil change",
		ServiceType:         &service,
		IsRecurring:         true,
		DueEveryDays:        &every,
		DueEveryKm:          &everyKm,
		LastResetAt:         &lastReset,
		LastResetOdometerKm: &lastKm,
		NextDueDate:         &nextDue,
		NextDueOdometerKm:   &nextKm,
		AutoResetOnService:  true,
		EstimatedCost:       decimal.NewFromInt(95),
	}); err != nil {
		return err
	}

	for _, r := range []budget.OdometerReading{
		{Date: now.AddDate(0, -12, 0), ValueKm: 12000},
		{Date: now.AddDate(0, 0, -1), ValueKm: 22500},
	} {
		if err := store.AddOdometerReading(vehicleID, r); err != nil {
			return err
		}
	}
	return nil
}
