package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the kind of spending an expense records.
type Category string

const (
	CategoryFuel        Category = "FUEL"
	CategoryService     Category = "SERVICE"
	CategoryInsurance   Category = "INSURANCE"
	CategoryTax         Category = "TAX"
	CategoryTolls       Category = "TOLLS"
	CategoryParking     Category = "PARKING"
	CategoryAccessories Category = "ACCESSORIES"
	CategoryWash        Category = "WASH"
	CategoryOther       Category = "OTHER"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFuel, CategoryService, CategoryInsurance, CategoryTax, CategoryTolls,
		CategoryParking, CategoryAccessories, CategoryWash, CategoryOther:
		return true
	}
	return false
}

// ExpenseType is the label the classifier derives for an expense.
type ExpenseType string

const (
	TypeRegular         ExpenseType = "REGULAR"
	TypeIrregularMedium ExpenseType = "IRREGULAR_MEDIUM"
	TypeIrregularLarge  ExpenseType = "IRREGULAR_LARGE"
)

// Irregular reports whether t is one of the outlier labels.
func (t ExpenseType) Irregular() bool {
	return t == TypeIrregularMedium || t == TypeIrregularLarge
}

// Confidence grades how much a forecast value can be trusted.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

func minConfidence(a, b Confidence) Confidence {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// VehicleRole is the caller's relation to a vehicle.
type VehicleRole string

const (
	RoleOwner  VehicleRole = "OWNER"
	RoleEditor VehicleRole = "EDITOR"
	RoleViewer VehicleRole = "VIEWER"
)

// CanWrite reports whether the role may mutate budget data.
func (r VehicleRole) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

// RuleStatus is the lifecycle state of a reminder rule.
type RuleStatus string

const (
	RuleActive RuleStatus = "ACTIVE"
	RulePaused RuleStatus = "PAUSED"
)

// Expense is a single recorded cost for a vehicle.
type Expense struct {
	ID        string
	VehicleID string
	Category  Category
	Amount    decimal.Decimal
	Date      time.Time
	Type      ExpenseType
	Note      string
}

// Assignment is a label computed for one expense.
type Assignment struct {
	ExpenseID string      `json:"id"`
	Type      ExpenseType `json:"expense_type"`
}

// ReminderRule is a recurring maintenance trigger keyed on elapsed days
// and/or distance.
type ReminderRule struct {
	ID                  string          `json:"id"`
	VehicleID           string          `json:"vehicle_id"`
	Name                string          `json:"name"`
	ServiceType         *string         `json:"service_type"`
	IsRecurring         bool            `json:"is_recurring"`
	DueEveryDays        *int            `json:"due_every_days"`
	DueEveryKm          *int            `json:"due_every_km"`
	LastResetAt         *time.Time      `json:"last_reset_at"`
	LastResetOdometerKm *float64        `json:"last_reset_odometer_km"`
	NextDueDate         *time.Time      `json:"next_due_date"`
	NextDueOdometerKm   *float64        `json:"next_due_odometer_km"`
	Status              RuleStatus      `json:"status"`
	AutoResetOnService  bool            `json:"auto_reset_on_service"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
}

// OdometerReading is one recorded odometer value.
type OdometerReading struct {
	Date    time.Time
	ValueKm float64
}

// ScheduledService is a reminder rule projected into a forecast month.
type ScheduledService struct {
	RuleID     string          `json:"rule_id"`
	Name       string          `json:"name"`
	Cost       decimal.Decimal `json:"cost"`
	Date       time.Time       `json:"date"`
	Confidence Confidence      `json:"confidence"`
}

// ForecastPoint is the projection for one calendar month.
type ForecastPoint struct {
	Month                string             `json:"month"`
	RegularCosts         decimal.Decimal    `json:"regular_costs"`
	ScheduledMaintenance decimal.Decimal    `json:"scheduled_maintenance"`
	ScheduledDetails     []ScheduledService `json:"scheduled_maintenance_details"`
	IrregularBuffer      decimal.Decimal    `json:"irregular_buffer"`
	TotalPredicted       decimal.Decimal    `json:"total_predicted"`
	ConfidenceLevel      Confidence         `json:"confidence_level"`
}

// Forecast is the full projection for a vehicle.
type Forecast struct {
	VehicleID         string          `json:"vehicle_id"`
	MonthsAhead       int             `json:"forecast_months"`
	IncludeIrregular  bool            `json:"include_irregular"`
	AvgMonthlyMileage float64         `json:"avg_monthly_mileage"`
	Points            []ForecastPoint `json:"forecasts"`
}

// Statistics aggregates the trailing twelve months of spending.
type Statistics struct {
	VehicleID              string           `json:"vehicle_id"`
	TotalRegular           decimal.Decimal  `json:"total_regular_12m"`
	TotalIrregular         decimal.Decimal  `json:"total_irregular_12m"`
	AvgMonthlyRegular      decimal.Decimal  `json:"avg_monthly_regular"`
	AvgMonthlyIrregular    decimal.Decimal  `json:"avg_monthly_irregular"`
	LargestExpense         *decimal.Decimal `json:"largest_expense_last_12m"`
	LargestExpenseCategory *Category        `json:"largest_expense_category"`
	RegularCount           int              `json:"regular_count"`
	IrregularMediumCount   int              `json:"irregular_medium_count"`
	IrregularLargeCount    int              `json:"irregular_large_count"`
}

// ClassificationResult summarises a classification run.
type ClassificationResult struct {
	Total           int `json:"total_classified"`
	Regular         int `json:"regular"`
	IrregularMedium int `json:"irregular_medium"`
	IrregularLarge  int `json:"irregular_large"`
}

func (r *ClassificationResult) add(t ExpenseType) {
	r.Total++
	switch t {
	case TypeIrregularMedium:
		r.IrregularMedium++
	case TypeIrregularLarge:
		r.IrregularLarge++
	default:
		r.Regular++
	}
}
