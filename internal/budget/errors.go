package budget

import "errors"

var (
	ErrVehicleNotFound  = errors.New("budget: vehicle not found")
	ErrRuleNotFound     = errors.New("budget: reminder rule not found")
	ErrForbidden        = errors.New("budget: insufficient vehicle permissions")
	ErrInvalidMonths    = errors.New("budget: months_ahead must be between 1 and 24")
	ErrInvalidInput     = errors.New("budget: invalid input")
	ErrStoreUnavailable = errors.New("budget: store unavailable")
)
