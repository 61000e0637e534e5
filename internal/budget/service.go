package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"motolog.org/internal/obs"
)

// Service runs the classifier and forecaster against a Store.
type Service struct {
	store      Store
	classifier Classifier
	forecaster Forecaster
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClassifier overrides the outlier thresholds.
func WithClassifier(c Classifier) Option {
	return func(s *Service) error {
		if c.MediumSigma <= 0 || c.LargeSigma < c.MediumSigma {
			return fmt.Errorf("budget: invalid classifier thresholds %.2f/%.2f", c.MediumSigma, c.LargeSigma)
		}
		if c.MinRelativeSigma < 0 {
			return errors.New("budget: relative sigma floor must not be negative")
		}
		s.classifier = c
		return nil
	}
}

// WithForecaster overrides forecast parameters.
func WithForecaster(f Forecaster) Option {
	return func(s *Service) error {
		if f.IrregularRatio.IsNegative() {
			return errors.New("budget: irregular ratio must not be negative")
		}
		s.forecaster = f
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("budget: store is required")
	}
	svc := &Service{
		store:      store,
		classifier: DefaultClassifier(),
		forecaster: DefaultForecaster(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Authorize resolves the caller's role on a vehicle. Write access requires
// OWNER or EDITOR.
func (s *Service) Authorize(ctx context.Context, userID, vehicleID string, write bool) (VehicleRole, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrForbidden
	}
	if strings.TrimSpace(vehicleID) == "" {
		return "", ErrVehicleNotFound
	}
	role, err := s.store.VehicleRole(ctx, userID, vehicleID)
	if err != nil {
		return "", storeErr(err)
	}
	if write && !role.CanWrite() {
		return role, ErrForbidden
	}
	return role, nil
}

// AuthorizeRule resolves the rule and checks the caller's role on its vehicle.
func (s *Service) AuthorizeRule(ctx context.Context, userID, ruleID string, write bool) (ReminderRule, error) {
	if strings.TrimSpace(ruleID) == "" {
		return ReminderRule{}, ErrRuleNotFound
	}
	rule, err := s.store.ReminderRule(ctx, ruleID)
	if err != nil {
		return ReminderRule{}, storeErr(err)
	}
	if _, err := s.Authorize(ctx, userID, rule.VehicleID, write); err != nil {
		if errors.Is(err, ErrVehicleNotFound) {
			// hide rules on vehicles the caller cannot see
			return ReminderRule{}, ErrRuleNotFound
		}
		return ReminderRule{}, err
	}
	return rule, nil
}

// Classify relabels every expense of the vehicle in one unit of work and
// reports how many landed in each class.
func (s *Service) Classify(ctx context.Context, vehicleID string) (ClassificationResult, error) {
	var res ClassificationResult
	_, err := s.store.Reclassify(ctx, vehicleID, func(expenses []Expense) []Assignment {
		res = ClassificationResult{}
		labels := s.classifier.Classify(expenses)
		for _, a := range labels {
			res.add(a.Type)
		}
		return labels
	})
	if err != nil {
		return ClassificationResult{}, storeErr(err)
	}
	obs.RecordClassification(string(TypeRegular), res.Regular)
	obs.RecordClassification(string(TypeIrregularMedium), res.IrregularMedium)
	obs.RecordClassification(string(TypeIrregularLarge), res.IrregularLarge)
	return res, nil
}

// Forecast projects monthsAhead months of costs for the vehicle.
func (s *Service) Forecast(ctx context.Context, vehicleID string, monthsAhead int, includeIrregular bool) (Forecast, error) {
	if monthsAhead < MinMonthsAhead || monthsAhead > MaxMonthsAhead {
		return Forecast{}, ErrInvalidMonths
	}
	start := time.Now()
	defer func() { obs.ObserveForecast(time.Since(start)) }()

	now := s.now().UTC()
	expenses, err := s.labelledExpenses(ctx, vehicleID)
	if err != nil {
		return Forecast{}, err
	}
	rules, err := s.store.ReminderRules(ctx, vehicleID)
	if err != nil {
		return Forecast{}, storeErr(err)
	}
	readings, err := s.store.OdometerReadings(ctx, vehicleID)
	if err != nil {
		return Forecast{}, storeErr(err)
	}
	return s.forecaster.Project(ForecastInput{
		VehicleID:        vehicleID,
		Now:              now,
		MonthsAhead:      monthsAhead,
		IncludeIrregular: includeIrregular,
		Expenses:         expenses,
		Rules:            rules,
		Readings:         readings,
	})
}

// Statistics aggregates the trailing twelve months of spending.
func (s *Service) Statistics(ctx context.Context, vehicleID string) (Statistics, error) {
	expenses, err := s.labelledExpenses(ctx, vehicleID)
	if err != nil {
		return Statistics{}, err
	}
	return Summarize(vehicleID, expenses, s.now()), nil
}

// AverageMonthlyMileage derives the vehicle's mileage from its odometer history.
func (s *Service) AverageMonthlyMileage(ctx context.Context, vehicleID string) (float64, error) {
	readings, err := s.store.OdometerReadings(ctx, vehicleID)
	if err != nil {
		return 0, storeErr(err)
	}
	return AverageMonthlyMileage(readings), nil
}

// RenewReminder records that the rule was serviced at the given time and
// odometer and advances its next-due values.
func (s *Service) RenewReminder(ctx context.Context, ruleID string, at time.Time, odometerKm *float64) (ReminderRule, error) {
	rule, err := s.store.ReminderRule(ctx, ruleID)
	if err != nil {
		return ReminderRule{}, storeErr(err)
	}
	if at.IsZero() {
		at = s.now()
	}
	next, err := AdvanceRule(rule, at, odometerKm)
	if err != nil {
		return ReminderRule{}, err
	}
	if err := s.store.SaveReminderDue(ctx, next); err != nil {
		return ReminderRule{}, storeErr(err)
	}
	return next, nil
}

// labelledExpenses loads the vehicle's full history and labels it with the
// current classifier, so stale stored labels never skew results.
func (s *Service) labelledExpenses(ctx context.Context, vehicleID string) ([]Expense, error) {
	expenses, err := s.store.Expenses(ctx, vehicleID, time.Time{})
	if err != nil {
		return nil, storeErr(err)
	}
	return s.classifier.Apply(expenses), nil
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, ErrVehicleNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
