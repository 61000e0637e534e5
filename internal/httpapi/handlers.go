package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/obs"
)

const serviceName = "motolog-api"

// Pinger is satisfied by *sql.DB and the PostgreSQL store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the database when one is configured.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	budget     *budget.Service

	rateBurst      int
	ratePerSec     float64
	maxBody        int64
	trustedProxies []netip.Prefix
}

// Option tunes the API.
type Option func(*API) error

// WithRateLimit sets the per-IP token bucket applied to /v1/auth endpoints.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) error {
		if burst <= 0 || perSecond <= 0 {
			return errors.New("httpapi: rate limit must be positive")
		}
		a.rateBurst = burst
		a.ratePerSec = perSecond
		return nil
	}
}

// WithTrustedProxies lists the reverse proxies (CIDRs or addresses) whose
// X-Forwarded-For header is believed. Without any, the peer address is the
// client.
func WithTrustedProxies(list []string) Option {
	return func(a *API) error {
		trusted, err := ParseTrustedProxies(list)
		if err != nil {
			return err
		}
		a.trustedProxies = trusted
		return nil
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) error {
		if n <= 0 {
			return errors.New("httpapi: body limit must be positive")
		}
		a.maxBody = n
		return nil
	}
}

func New(rp ReadyProbe, version string, authSvc *auth.Service, budgetSvc *budget.Service, opts ...Option) (*API, error) {
	if authSvc == nil || budgetSvc == nil {
		return nil, errors.New("httpapi: auth and budget services are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		budget:     budgetSvc,
		rateBurst:  10,
		ratePerSec: 5,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	authRoutes := http.NewServeMux()
	authRoutes.HandleFunc("/v1/auth/register", a.handleRegister)
	authRoutes.HandleFunc("/v1/auth/login", a.handleLogin)
	authRoutes.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	authRoutes.HandleFunc("/v1/auth/logout", a.handleLogout)
	authRoutes.HandleFunc("/v1/auth/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	a.mux.Handle("/v1/auth/", RateLimit(authRoutes, a.rateBurst, a.ratePerSec))

	a.mux.HandleFunc("/v1/users/me", a.handleMe)
	a.mux.HandleFunc("/v1/users/me/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/vehicles/", a.handleVehicleResource)
	a.mux.HandleFunc("/v1/reminders/", a.handleReminderResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = RealIP(h, a.trustedProxies)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
