package budget

import (
	"fmt"
	"time"
)

// AdvanceRule resets rule at the given moment and odometer and moves its
// next-due values forward by the rule's intervals. Next-due values never
// move backwards: a renewal recorded with an older date or reading keeps
// the later due values already stored.
func AdvanceRule(rule ReminderRule, at time.Time, odometerKm *float64) (ReminderRule, error) {
	if at.IsZero() {
		return ReminderRule{}, fmt.Errorf("%w: renewal time is required", ErrInvalidInput)
	}
	if odometerKm != nil && *odometerKm < 0 {
		return ReminderRule{}, fmt.Errorf("%w: odometer must not be negative", ErrInvalidInput)
	}
	if rule.DueEveryDays == nil && rule.DueEveryKm == nil {
		return ReminderRule{}, fmt.Errorf("%w: rule has no interval", ErrInvalidInput)
	}

	at = at.UTC()
	out := rule
	out.LastResetAt = &at
	if odometerKm != nil {
		km := *odometerKm
		out.LastResetOdometerKm = &km
	}

	if rule.DueEveryDays != nil && *rule.DueEveryDays > 0 {
		next := at.AddDate(0, 0, *rule.DueEveryDays)
		if rule.NextDueDate == nil || next.After(*rule.NextDueDate) {
			out.NextDueDate = &next
		}
	}
	if rule.DueEveryKm != nil && *rule.DueEveryKm > 0 && odometerKm != nil {
		next := *odometerKm + float64(*rule.DueEveryKm)
		if rule.NextDueOdometerKm == nil || next > *rule.NextDueOdometerKm {
			out.NextDueOdometerKm = &next
		}
	}
	return out, nil
}
