package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events by outcome.",
		},
		[]string{"event", "outcome"},
	)

	classifiedExpenses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budget_classified_expenses_total",
			Help: "Expenses labelled by the classifier, by resulting type.",
		},
		[]string{"type"},
	)

	forecastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "budget_forecast_duration_seconds",
		Help:    "Time spent computing a budget forecast.",
		Buckets: prometheus.DefBuckets,
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service reports ready.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEvents, classifiedExpenses, forecastDuration, ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthEvent counts an authentication event such as ("login", "success").
func RecordAuthEvent(event, outcome string) {
	authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordClassification adds n expenses labelled with expenseType.
func RecordClassification(expenseType string, n int) {
	if n <= 0 {
		return
	}
	classifiedExpenses.WithLabelValues(expenseType).Add(float64(n))
}

// ObserveForecast records how long a forecast took.
func ObserveForecast(d time.Duration) {
	forecastDuration.Observe(d.Seconds())
}

// SetReady flips the ready gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures request rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath replaces resource identifiers with :id so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "vehicles" && parts[3] == "budget":
		switch parts[4] {
		case "forecast", "statistics", "classify-expenses":
			return "/v1/vehicles/:id/budget/" + parts[4]
		}
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "reminders" && parts[3] == "renew":
		return "/v1/reminders/:id/renew"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
