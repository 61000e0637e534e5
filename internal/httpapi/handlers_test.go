package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memory.Store
	t       *testing.T
}

func newTestAPI(t *testing.T, probe ReadyProbe) *apiClient {
	t.Helper()

	store := memory.New()
	codec, err := auth.NewTokenCodec([]byte(testSecret), auth.WithIssuer("motolog-test"))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	hasher := auth.Argon2Hasher{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}
	authSvc, err := auth.NewService(store, codec, auth.WithRefreshStore(store), auth.WithHasher(hasher))
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	budgetSvc, err := budget.NewService(store)
	if err != nil {
		t.Fatalf("budget service: %v", err)
	}

	api, err := New(probe, "test", authSvc, budgetSvc, WithRateLimit(100, 100))
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// signUp registers and logs in a user, returning its id and token pair.
func (c *apiClient) signUp(email string) (string, tokenResponse) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":    email,
		"password": "s3cret-pass",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
	user := decode[map[string]any](c.t, resp)

	resp = c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": "s3cret-pass",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	tokens := decode[tokenResponse](c.t, resp)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		c.t.Fatalf("empty tokens issued")
	}
	return user["id"].(string), tokens
}

func bearer(tok tokenResponse) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

func TestAuthSessionFlow(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	userID, tokens := api.signUp("rider@example.com")

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "Rider@Example.com",
		"password": "another-pass",
	}, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.get("/v1/users/me", nil, bearer(tokens))
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]any](t, resp)
	if me["id"] != userID || me["email"] != "rider@example.com" {
		t.Fatalf("unexpected profile: %v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Fatal("password hash must not be serialized")
	}

	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": tokens.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusOK)
	rotated := decode[tokenResponse](t, resp)
	if rotated.RefreshToken == tokens.RefreshToken {
		t.Fatal("expected refresh token rotation")
	}
	if rotated.TokenType != "bearer" {
		t.Fatalf("unexpected token type %q", rotated.TokenType)
	}

	// Replaying the rotated-out token is rejected.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": tokens.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/auth/logout", map[string]any{"refresh_token": rotated.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestLoginAcceptsPasswordForm(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.signUp("form@example.com")

	form := url.Values{"username": {"form@example.com"}, "password": {"s3cret-pass"}}
	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	tokens := decode[tokenResponse](t, resp)
	if tokens.AccessToken == "" {
		t.Fatal("expected access token")
	}
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.signUp("known@example.com")

	unknown := api.post("/v1/auth/login", map[string]any{"email": "nobody@example.com", "password": "s3cret-pass"}, nil)
	expectStatus(t, unknown, http.StatusUnauthorized)
	wrong := api.post("/v1/auth/login", map[string]any{"email": "known@example.com", "password": "wrong-pass"}, nil)
	expectStatus(t, wrong, http.StatusUnauthorized)

	a := decode[map[string]any](t, unknown)
	b := decode[map[string]any](t, wrong)
	if a["error"] != b["error"] {
		t.Fatalf("login failures differ: %q vs %q", a["error"], b["error"])
	}
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})

	resp := api.post("/v1/auth/register", map[string]any{"email": "not-an-email", "password": "s3cret-pass"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/auth/register", map[string]any{"email": "short@example.com", "password": "short"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/auth/register", map[string]any{"email": "x@example.com", "password": "s3cret-pass", "role": "admin"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	_, tokens := api.signUp("guard@example.com")

	resp := api.get("/v1/users/me", nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected error message and request id, got %v", errBody)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	// A refresh token is not an access token.
	resp2 := api.get("/v1/users/me", nil, map[string]string{"Authorization": "Bearer " + tokens.RefreshToken})
	expectStatus(t, resp2, http.StatusUnauthorized)
	resp2.Body.Close()

	resp3 := api.get("/v1/users/me", nil, map[string]string{"Authorization": "Basic abc"})
	expectStatus(t, resp3, http.StatusUnauthorized)
	resp3.Body.Close()
}

func TestProfileAndPasswordChange(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	_, tokens := api.signUp("profile@example.com")

	resp := api.do(http.MethodPatch, "/v1/users/me", map[string]any{"display_name": "  Kasia  "}, bearer(tokens))
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]any](t, resp)
	if me["display_name"] != "Kasia" {
		t.Fatalf("unexpected display name: %v", me["display_name"])
	}

	resp = api.post("/v1/users/me/password", map[string]any{
		"current_password": "wrong-pass",
		"new_password":     "brand-new-pass",
	}, bearer(tokens))
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/users/me/password", map[string]any{
		"current_password": "s3cret-pass",
		"new_password":     "brand-new-pass",
	}, bearer(tokens))
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	// Outstanding refresh tokens are revoked by the change.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": tokens.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/auth/login", map[string]any{"email": "profile@example.com", "password": "brand-new-pass"}, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func seedFuelHistory(t *testing.T, store *memory.Store, vehicleID string) {
	t.Helper()
	now := time.Now().UTC()
	for i := 1; i <= 12; i++ {
		_, err := store.AddExpense(budget.Expense{
			VehicleID: vehicleID,
			Category:  budget.CategoryFuel,
			Amount:    decimal.NewFromInt(200),
			Date:      now.AddDate(0, -i, 0),
		})
		if err != nil {
			t.Fatalf("add expense: %v", err)
		}
	}
	if _, err := store.AddExpense(budget.Expense{
		VehicleID: vehicleID,
		Category:  budget.CategoryFuel,
		Amount:    decimal.NewFromInt(5000),
		Date:      now.AddDate(0, -2, 3),
	}); err != nil {
		t.Fatalf("add outlier: %v", err)
	}
}

func TestBudgetEndpoints(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	ownerID, owner := api.signUp("owner@example.com")
	viewerID, viewer := api.signUp("viewer@example.com")
	_, stranger := api.signUp("stranger@example.com")

	vehicleID := api.store.AddVehicle(ownerID, "Yamaha MT-07")
	if err := api.store.ShareVehicle(vehicleID, viewerID, budget.RoleViewer); err != nil {
		t.Fatalf("share: %v", err)
	}
	seedFuelHistory(t, api.store, vehicleID)
	base := "/v1/vehicles/" + vehicleID + "/budget/"

	resp := api.get(base+"forecast", url.Values{"months_ahead": {"3"}, "include_irregular": {"true"}}, bearer(owner))
	expectStatus(t, resp, http.StatusOK)
	fc := decode[budget.Forecast](t, resp)
	if len(fc.Points) != 3 || fc.MonthsAhead != 3 || !fc.IncludeIrregular {
		t.Fatalf("unexpected forecast: %+v", fc)
	}
	if !fc.Points[0].IrregularBuffer.IsPositive() {
		t.Fatalf("expected positive irregular buffer, got %s", fc.Points[0].IrregularBuffer)
	}

	resp = api.get(base+"forecast", nil, bearer(viewer))
	expectStatus(t, resp, http.StatusOK)
	fc = decode[budget.Forecast](t, resp)
	if len(fc.Points) != defaultMonthsAhead {
		t.Fatalf("expected default horizon, got %d", len(fc.Points))
	}

	for _, months := range []string{"0", "25", "abc"} {
		resp = api.get(base+"forecast", url.Values{"months_ahead": {months}}, bearer(owner))
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}

	resp = api.get(base+"statistics", nil, bearer(owner))
	expectStatus(t, resp, http.StatusOK)
	stats := decode[map[string]any](t, resp)
	if stats["largest_expense_category"] != string(budget.CategoryFuel) {
		t.Fatalf("unexpected statistics: %v", stats)
	}

	resp = api.post(base+"classify-expenses", nil, bearer(viewer))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post(base+"classify-expenses", nil, bearer(owner))
	expectStatus(t, resp, http.StatusOK)
	res := decode[map[string]any](t, resp)
	if res["total_classified"] != float64(13) || res["irregular_large"] != float64(1) || res["vehicle_id"] != vehicleID {
		t.Fatalf("unexpected classification: %v", res)
	}

	resp = api.get(base+"statistics", nil, bearer(stranger))
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/v1/vehicles/"+vehicleID+"/budget/unknown", nil, bearer(owner))
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get(base+"classify-expenses", nil, bearer(owner))
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

func TestRenewReminder(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	ownerID, owner := api.signUp("renew@example.com")
	_, stranger := api.signUp("other@example.com")

	vehicleID := api.store.AddVehicle(ownerID, "Honda CB500")
	every := 30
	ruleID, err := api.store.AddReminderRule(budget.ReminderRule{
		VehicleID:     vehicleID,
		Name:          "Chain lube",
		IsRecurring:   true,
		DueEveryDays:  &every,
		EstimatedCost: decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	resp := api.post("/v1/reminders/"+ruleID+"/renew", map[string]any{"at": "2026-03-01T00:00:00Z"}, bearer(stranger))
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.post("/v1/reminders/"+ruleID+"/renew", map[string]any{
		"at":     "2026-03-01T00:00:00Z",
		"reason": "push",
	}, bearer(owner))
	expectStatus(t, resp, http.StatusOK)
	rule := decode[map[string]any](t, resp)
	if rule["next_due_date"] != "2026-03-31T00:00:00Z" {
		t.Fatalf("unexpected next due date: %v", rule["next_due_date"])
	}

	resp = api.post("/v1/reminders/missing/renew", nil, bearer(owner))
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

type downPinger struct{}

func (downPinger) PingContext(context.Context) error { return errors.New("db down") }

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		expectStatus(t, resp, http.StatusOK)
		if resp.Header.Get(requestIDHeader) == "" {
			t.Fatalf("%s: expected request id header", path)
		}
		resp.Body.Close()
	}

	down := newTestAPI(t, ReadyProbe{DB: downPinger{}})
	resp := down.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	body := decode[map[string]any](t, resp)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected readiness body: %v", body)
	}
}
