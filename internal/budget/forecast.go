package budget

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinMonthsAhead = 1
	MaxMonthsAhead = 24

	historyWindowMonths = 12
	minHistoryForHigh   = 6
	daysPerMonth        = 30.4375
	monthLayout         = "2006-01-02"

	hundredths = 2
)

// Forecaster projects monthly costs from labelled history, reminder rules
// and odometer readings. It never touches storage.
type Forecaster struct {
	// IrregularRatio is the share of average monthly irregular spend added
	// as a risk buffer.
	IrregularRatio decimal.Decimal
}

// DefaultForecaster uses a 15% irregular buffer.
func DefaultForecaster() Forecaster {
	return Forecaster{IrregularRatio: decimal.RequireFromString("0.15")}
}

// ForecastInput is everything a projection depends on. Expenses must
// already carry their labels.
type ForecastInput struct {
	VehicleID        string
	Now              time.Time
	MonthsAhead      int
	IncludeIrregular bool
	Expenses         []Expense
	Rules            []ReminderRule
	Readings         []OdometerReading
}

// Project builds one point per month, earliest first. Month 1 is the
// calendar month containing Now.
func (f Forecaster) Project(in ForecastInput) (Forecast, error) {
	if in.MonthsAhead < MinMonthsAhead || in.MonthsAhead > MaxMonthsAhead {
		return Forecast{}, ErrInvalidMonths
	}
	now := in.Now.UTC()
	hist := summarize(in.Expenses, now)
	mileage := AverageMonthlyMileage(in.Readings)

	regular := hist.avgRegular().Round(hundredths)
	buffer := decimal.Zero
	if in.IncludeIrregular {
		buffer = hist.avgIrregular().Mul(f.IrregularRatio).Round(hundredths)
	}

	first := monthStart(now)
	points := make([]ForecastPoint, in.MonthsAhead)
	for i := range points {
		points[i] = ForecastPoint{
			Month:                first.AddDate(0, i, 0).Format(monthLayout),
			RegularCosts:         regular,
			ScheduledMaintenance: decimal.Zero,
			ScheduledDetails:     []ScheduledService{},
			IrregularBuffer:      buffer,
			ConfidenceLevel:      ConfidenceFor(i+1, hist.windowMonths),
		}
	}

	for _, sched := range scheduleRules(in.Rules, now, latestOdometer(in.Readings), mileage) {
		idx := monthsBetween(first, monthStart(sched.Date))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(points) {
			continue
		}
		p := &points[idx]
		p.ScheduledMaintenance = p.ScheduledMaintenance.Add(sched.Cost)
		p.ScheduledDetails = append(p.ScheduledDetails, sched)
	}

	for i := range points {
		p := &points[i]
		p.ScheduledMaintenance = p.ScheduledMaintenance.Round(hundredths)
		p.TotalPredicted = p.RegularCosts.Add(p.ScheduledMaintenance).Add(p.IrregularBuffer)
	}

	return Forecast{
		VehicleID:         in.VehicleID,
		MonthsAhead:       in.MonthsAhead,
		IncludeIrregular:  in.IncludeIrregular,
		AvgMonthlyMileage: mileage,
		Points:            points,
	}, nil
}

// ConfidenceFor grades month m (1-based) of a forecast given how many
// distinct months of the trailing window carry expenses.
func ConfidenceFor(m, historyMonths int) Confidence {
	if historyMonths == 0 {
		return ConfidenceLow
	}
	var c Confidence
	switch {
	case m <= 3:
		c = ConfidenceHigh
	case m <= 9:
		c = ConfidenceMedium
	default:
		c = ConfidenceLow
	}
	if historyMonths < minHistoryForHigh {
		c = minConfidence(c, ConfidenceMedium)
	}
	return c
}

// AverageMonthlyMileage is the distance between the earliest and latest
// readings divided by the months separating them. It is 0 whenever that
// ratio is undefined or negative.
func AverageMonthlyMileage(readings []OdometerReading) float64 {
	if len(readings) < 2 {
		return 0
	}
	earliest, latest := readings[0], readings[0]
	for _, r := range readings[1:] {
		if r.Date.Before(earliest.Date) {
			earliest = r
		}
		if r.Date.After(latest.Date) {
			latest = r
		}
	}
	months := latest.Date.Sub(earliest.Date).Hours() / 24 / daysPerMonth
	if months <= 0 {
		return 0
	}
	km := latest.ValueKm - earliest.ValueKm
	if km <= 0 {
		return 0
	}
	return km / months
}

func latestOdometer(readings []OdometerReading) float64 {
	var latest OdometerReading
	for _, r := range readings {
		if latest.Date.IsZero() || r.Date.After(latest.Date) {
			latest = r
		}
	}
	return latest.ValueKm
}

// scheduleRules projects the next occurrence of every active rule. A rule
// with both intervals is placed at whichever trigger comes first.
func scheduleRules(rules []ReminderRule, now time.Time, odometer, mileage float64) []ScheduledService {
	var out []ScheduledService
	for _, r := range rules {
		if r.Status == RulePaused {
			continue
		}
		due, conf, ok := nextDue(r, now, odometer, mileage)
		if !ok {
			continue
		}
		out = append(out, ScheduledService{
			RuleID:     r.ID,
			Name:       r.Name,
			Cost:       r.EstimatedCost.Round(hundredths),
			Date:       due,
			Confidence: conf,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func nextDue(r ReminderRule, now time.Time, odometer, mileage float64) (time.Time, Confidence, bool) {
	var (
		due   time.Time
		conf  Confidence
		found bool
	)
	if d, ok := dayTrigger(r); ok {
		due, conf, found = d, ConfidenceHigh, true
	}
	if d, ok := kmTrigger(r, now, odometer, mileage); ok && (!found || d.Before(due)) {
		due, conf, found = d, ConfidenceMedium, true
	}
	return due.UTC(), conf, found
}

func dayTrigger(r ReminderRule) (time.Time, bool) {
	if r.NextDueDate != nil {
		return *r.NextDueDate, true
	}
	if r.DueEveryDays != nil && *r.DueEveryDays > 0 && r.LastResetAt != nil {
		return r.LastResetAt.AddDate(0, 0, *r.DueEveryDays), true
	}
	return time.Time{}, false
}

func kmTrigger(r ReminderRule, now time.Time, odometer, mileage float64) (time.Time, bool) {
	if mileage <= 0 {
		return time.Time{}, false
	}
	var target float64
	switch {
	case r.NextDueOdometerKm != nil:
		target = *r.NextDueOdometerKm
	case r.DueEveryKm != nil && *r.DueEveryKm > 0 && r.LastResetOdometerKm != nil:
		target = *r.LastResetOdometerKm + float64(*r.DueEveryKm)
	default:
		return time.Time{}, false
	}
	remaining := target - odometer
	if remaining <= 0 {
		return now, true
	}
	months := remaining / mileage
	// past any forecast window; also keeps the Duration below from overflowing
	if months > MaxMonthsAhead+1 {
		return time.Time{}, false
	}
	return now.Add(time.Duration(months * daysPerMonth * float64(24*time.Hour))), true
}

// history is the trailing-window aggregate shared by forecasts and
// statistics.
type history struct {
	regularSum      decimal.Decimal
	irregularSum    decimal.Decimal
	windowMonths    int
	irregularMonths int
	largest         *Expense
	regularCount    int
	mediumCount     int
	largeCount      int
}

func summarize(expenses []Expense, now time.Time) history {
	since := now.AddDate(0, -historyWindowMonths, 0)
	window := make(map[string]struct{})
	irregular := make(map[string]struct{})
	h := history{regularSum: decimal.Zero, irregularSum: decimal.Zero}

	for i := range expenses {
		e := &expenses[i]
		key := e.Date.UTC().Format("2006-01")
		if e.Date.Before(since) || e.Date.After(now) {
			continue
		}
		window[key] = struct{}{}
		if h.largest == nil || e.Amount.GreaterThan(h.largest.Amount) {
			h.largest = e
		}
		switch e.Type {
		case TypeIrregularMedium, TypeIrregularLarge:
			h.irregularSum = h.irregularSum.Add(e.Amount)
			irregular[key] = struct{}{}
			if e.Type == TypeIrregularMedium {
				h.mediumCount++
			} else {
				h.largeCount++
			}
		default:
			h.regularSum = h.regularSum.Add(e.Amount)
			h.regularCount++
		}
	}
	h.windowMonths = len(window)
	h.irregularMonths = len(irregular)
	return h
}

func (h history) avgRegular() decimal.Decimal {
	if h.windowMonths == 0 {
		return decimal.Zero
	}
	return h.regularSum.Div(decimal.NewFromInt(int64(h.windowMonths)))
}

func (h history) avgIrregular() decimal.Decimal {
	n := h.irregularMonths
	if n < 1 {
		n = 1
	}
	return h.irregularSum.Div(decimal.NewFromInt(int64(n)))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
