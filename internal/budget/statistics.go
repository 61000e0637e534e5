package budget

import "time"

// Summarize aggregates labelled expenses over the twelve months before now.
// Averages use the same month bases as the forecaster, so
// AvgMonthlyRegular equals a forecast's regular costs.
func Summarize(vehicleID string, expenses []Expense, now time.Time) Statistics {
	h := summarize(expenses, now.UTC())
	st := Statistics{
		VehicleID:            vehicleID,
		TotalRegular:         h.regularSum.Round(hundredths),
		TotalIrregular:       h.irregularSum.Round(hundredths),
		AvgMonthlyRegular:    h.avgRegular().Round(hundredths),
		AvgMonthlyIrregular:  h.avgIrregular().Round(hundredths),
		RegularCount:         h.regularCount,
		IrregularMediumCount: h.mediumCount,
		IrregularLargeCount:  h.largeCount,
	}
	if h.largest != nil {
		amount := h.largest.Amount
		category := h.largest.Category
		st.LargestExpense = &amount
		st.LargestExpenseCategory = &category
	}
	return st
}
