package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"motolog.org/internal/audit"
	"motolog.org/internal/budget"
)

const defaultMonthsAhead = 6

type renewRequest struct {
	Reason   string     `json:"reason"`
	Odometer *float64   `json:"odometer"`
	At       *time.Time `json:"at"`
}

type classifyResponse struct {
	VehicleID string `json:"vehicle_id"`
	budget.ClassificationResult
}

// handleVehicleResource routes /v1/vehicles/{id}/budget/{op}.
func (a *API) handleVehicleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/vehicles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "budget" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	vehicleID := parts[0]

	switch parts[2] {
	case "forecast":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.forecast(w, r, vehicleID)
	case "statistics":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.statistics(w, r, vehicleID)
	case "classify-expenses":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.classify(w, r, vehicleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleReminderResource routes /v1/reminders/{id}/renew.
func (a *API) handleReminderResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/reminders/"), "/")
	ruleID, op, ok := strings.Cut(path, "/")
	if !ok || ruleID == "" || op != "renew" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.renew(w, r, ruleID)
}

func (a *API) forecast(w http.ResponseWriter, r *http.Request, vehicleID string) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	months, err := parseMonths(q.Get("months_ahead"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	includeIrregular := false
	if raw := strings.TrimSpace(q.Get("include_irregular")); raw != "" {
		includeIrregular, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "include_irregular must be a boolean")
			return
		}
	}

	if _, err := a.budget.Authorize(r.Context(), userID, vehicleID, false); err != nil {
		handleBudgetError(w, r, err)
		return
	}
	fc, err := a.budget.Forecast(r.Context(), vehicleID, months, includeIrregular)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (a *API) statistics(w http.ResponseWriter, r *http.Request, vehicleID string) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if _, err := a.budget.Authorize(r.Context(), userID, vehicleID, false); err != nil {
		handleBudgetError(w, r, err)
		return
	}
	stats, err := a.budget.Statistics(r.Context(), vehicleID)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) classify(w http.ResponseWriter, r *http.Request, vehicleID string) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if _, err := a.budget.Authorize(r.Context(), userID, vehicleID, true); err != nil {
		handleBudgetError(w, r, err)
		return
	}
	res, err := a.budget.Classify(r.Context(), vehicleID)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "budget.classify", map[string]any{
		"vehicle_id":       vehicleID,
		"total":            res.Total,
		"irregular_medium": res.IrregularMedium,
		"irregular_large":  res.IrregularLarge,
	})
	writeJSON(w, http.StatusOK, classifyResponse{VehicleID: vehicleID, ClassificationResult: res})
}

func (a *API) renew(w http.ResponseWriter, r *http.Request, ruleID string) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if _, err := a.budget.AuthorizeRule(r.Context(), userID, ruleID, true); err != nil {
		handleBudgetError(w, r, err)
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	rule, err := a.budget.RenewReminder(r.Context(), ruleID, at, req.Odometer)
	if err != nil {
		handleBudgetError(w, r, err)
		return
	}
	fields := map[string]any{"rule_id": ruleID, "vehicle_id": rule.VehicleID}
	if req.Reason != "" {
		fields["reason"] = req.Reason
	}
	_ = audit.LogEvent(r.Context(), "reminder.renew", fields)
	writeJSON(w, http.StatusOK, rule)
}

func parseMonths(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultMonthsAhead, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("months_ahead must be an integer")
	}
	if val < budget.MinMonthsAhead || val > budget.MaxMonthsAhead {
		return 0, errors.New("months_ahead must be between 1 and 24")
	}
	return val, nil
}
