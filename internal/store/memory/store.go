package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/ids"
)

// Store implements the auth and budget persistence contracts in process.
// It backs dev mode and tests; nothing survives a restart.
type Store struct {
	mu sync.RWMutex

	users    map[string]*auth.User
	emails   map[string]string // lower(email) -> user id
	tokens   map[string]*auth.RefreshToken
	vehicles map[string]*vehicle
	expenses map[string][]budget.Expense // vehicle id -> expenses
	rules    map[string]*budget.ReminderRule
	readings map[string][]budget.OdometerReading
}

type vehicle struct {
	id      string
	ownerID string
	name    string
	shares  map[string]budget.VehicleRole
}

var (
	_ auth.UserStore         = (*Store)(nil)
	_ auth.RefreshTokenStore = (*Store)(nil)
	_ budget.Store           = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*auth.User),
		emails:   make(map[string]string),
		tokens:   make(map[string]*auth.RefreshToken),
		vehicles: make(map[string]*vehicle),
		expenses: make(map[string][]budget.Expense),
		rules:    make(map[string]*budget.ReminderRule),
		readings: make(map[string][]budget.OdometerReading),
	}
}

// --- users ---

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *s.users[id]
	return &out, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *Store) Insert(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.NewUserID()
	}
	key := strings.ToLower(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[key]; taken {
		return auth.ErrDuplicateEmail
	}
	cp := *u
	s.users[u.ID] = &cp
	s.emails[key] = u.ID
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, displayName *string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if displayName != nil {
		v := *displayName
		u.DisplayName = &v
	} else {
		u.DisplayName = nil
	}
	u.UpdatedAt = time.Now().UTC()
	out := *u
	return &out, nil
}

// DeleteUser removes a user and its refresh tokens.
func (s *Store) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		delete(s.emails, strings.ToLower(u.Email))
		delete(s.users, userID)
	}
	for id, tok := range s.tokens {
		if tok.UserID == userID {
			delete(s.tokens, id)
		}
	}
}

// --- refresh tokens ---

func (s *Store) Create(ctx context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tok.UserID]; !ok {
		return auth.ErrNotFound
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *tok
	return &out, nil
}

func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if tok.Revoked {
		return auth.ErrAlreadyRevoked
	}
	tok.Revoked = true
	return nil
}

func (s *Store) MarkRevokedByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

// PurgeExpiredRefreshTokens drops tokens that expired before cutoff.
func (s *Store) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.tokens {
		if tok.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// --- budget ---

func (s *Store) VehicleRole(ctx context.Context, userID, vehicleID string) (budget.VehicleRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return "", budget.ErrVehicleNotFound
	}
	if v.ownerID == userID {
		return budget.RoleOwner, nil
	}
	role, ok := v.shares[userID]
	if !ok {
		return "", budget.ErrVehicleNotFound
	}
	return role, nil
}

func (s *Store) Expenses(ctx context.Context, vehicleID string, since time.Time) ([]budget.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []budget.Expense
	for _, e := range s.expenses[vehicleID] {
		if !e.Date.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Reclassify holds the write lock for the whole call, so concurrent runs on
// any vehicle serialize.
func (s *Store) Reclassify(ctx context.Context, vehicleID string, fn func([]budget.Expense) []budget.Assignment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.expenses[vehicleID]
	labels := fn(append([]budget.Expense(nil), rows...))
	byID := make(map[string]budget.ExpenseType, len(labels))
	for _, a := range labels {
		byID[a.ExpenseID] = a.Type
	}
	updated := 0
	for i := range rows {
		if t, ok := byID[rows[i].ID]; ok {
			rows[i].Type = t
			updated++
		}
	}
	return updated, nil
}

func (s *Store) ReminderRules(ctx context.Context, vehicleID string) ([]budget.ReminderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []budget.ReminderRule
	for _, r := range s.rules {
		if r.VehicleID == vehicleID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReminderRule(ctx context.Context, ruleID string) (budget.ReminderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return budget.ReminderRule{}, budget.ErrRuleNotFound
	}
	return *r, nil
}

func (s *Store) SaveReminderDue(ctx context.Context, rule budget.ReminderRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[rule.ID]
	if !ok {
		return budget.ErrRuleNotFound
	}
	r.LastResetAt = rule.LastResetAt
	if rule.LastResetOdometerKm != nil {
		r.LastResetOdometerKm = rule.LastResetOdometerKm
	}
	if rule.NextDueDate != nil && (r.NextDueDate == nil || rule.NextDueDate.After(*r.NextDueDate)) {
		r.NextDueDate = rule.NextDueDate
	}
	if rule.NextDueOdometerKm != nil && (r.NextDueOdometerKm == nil || *rule.NextDueOdometerKm > *r.NextDueOdometerKm) {
		r.NextDueOdometerKm = rule.NextDueOdometerKm
	}
	return nil
}

func (s *Store) OdometerReadings(ctx context.Context, vehicleID string) ([]budget.OdometerReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]budget.OdometerReading(nil), s.readings[vehicleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
