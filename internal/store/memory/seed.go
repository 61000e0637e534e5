package memory

import (
	"motolog.org/internal/budget"
	"motolog.org/internal/ids"
)

// AddVehicle registers a vehicle owned by ownerID and returns its id.
func (s *Store) AddVehicle(ownerID, name string) string {
	id := ids.NewUserID()
	s.PutVehicle(id, ownerID, name)
	return id
}

// PutVehicle registers a vehicle under a fixed id, replacing any previous one.
func (s *Store) PutVehicle(id, ownerID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[id] = &vehicle{id: id, ownerID: ownerID, name: name, shares: map[string]budget.VehicleRole{}}
}

// ShareVehicle grants userID a role on the vehicle.
func (s *Store) ShareVehicle(vehicleID, userID string, role budget.VehicleRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return budget.ErrVehicleNotFound
	}
	v.shares[userID] = role
	return nil
}

// AddExpense records an expense; its label starts as REGULAR until the
// vehicle is classified.
func (s *Store) AddExpense(e budget.Expense) (string, error) {
	if !e.Category.Valid() {
		return "", budget.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[e.VehicleID]; !ok {
		return "", budget.ErrVehicleNotFound
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Type == "" {
		e.Type = budget.TypeRegular
	}
	s.expenses[e.VehicleID] = append(s.expenses[e.VehicleID], e)
	return e.ID, nil
}

// AddReminderRule stores rule and returns its id.
func (s *Store) AddReminderRule(rule budget.ReminderRule) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[rule.VehicleID]; !ok {
		return "", budget.ErrVehicleNotFound
	}
	if rule.ID == "" {
		rule.ID = ids.New()
	}
	if rule.Status == "" {
		rule.Status = budget.RuleActive
	}
	s.rules[rule.ID] = &rule
	return rule.ID, nil
}

// AddOdometerReading appends a reading to the vehicle's history.
func (s *Store) AddOdometerReading(vehicleID string, r budget.OdometerReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[vehicleID]; !ok {
		return budget.ErrVehicleNotFound
	}
	s.readings[vehicleID] = append(s.readings[vehicleID], r)
	return nil
}
