// Package config loads process settings from flags whose defaults come from
// MOTOLOG_* environment variables. Values are read once at startup.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "MOTOLOG_"

// Config holds every startup setting of the API process.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	AuthSecret        string
	AuthIssuer        string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RefreshRevocation bool

	RateBurst      int
	RatePerSec     float64
	TrustedProxies []string

	MediumSigma    float64
	LargeSigma     float64
	IrregularRatio string

	LogLevel string
	DevSeed  bool
}

// Load parses args (without the program name). getenv supplies defaults so
// tests can avoid the real environment.
func Load(name string, args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	env := envReader{getenv: getenv}

	var cfg Config
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", env.str("HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", env.str("GRPC_ADDR", ":9090"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.PGDSN, "pg-dsn", env.str("PG_DSN", ""), "PostgreSQL DSN; empty runs on the in-memory store")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", env.str("AUTH_SECRET", ""), "HS256 signing secret, at least 32 bytes")
	fs.StringVar(&cfg.AuthIssuer, "auth-issuer", env.str("AUTH_ISSUER", "motolog"), "token issuer claim")
	fs.DurationVar(&cfg.AccessTTL, "access-ttl", env.duration("ACCESS_TTL", 30*time.Minute), "access token lifetime")
	fs.DurationVar(&cfg.RefreshTTL, "refresh-ttl", env.duration("REFRESH_TTL", 14*24*time.Hour), "refresh token lifetime")
	fs.BoolVar(&cfg.RefreshRevocation, "refresh-revocation", env.boolean("REFRESH_REVOCATION", true), "persist refresh tokens so they rotate and can be revoked")
	fs.IntVar(&cfg.RateBurst, "rate-burst", env.integer("RATE_BURST", 10), "per-IP burst on /v1/auth")
	fs.Float64Var(&cfg.RatePerSec, "rate-per-sec", env.float("RATE_PER_SEC", 1), "per-IP refill rate on /v1/auth")
	fs.StringSliceVar(&cfg.TrustedProxies, "trusted-proxies", env.list("TRUSTED_PROXIES"), "reverse proxy CIDRs whose X-Forwarded-For is trusted")
	fs.Float64Var(&cfg.MediumSigma, "medium-sigma", env.float("MEDIUM_SIGMA", 3), "standard deviations above the mean for IRREGULAR_MEDIUM")
	fs.Float64Var(&cfg.LargeSigma, "large-sigma", env.float("LARGE_SIGMA", 6), "standard deviations above the mean for IRREGULAR_LARGE")
	fs.StringVar(&cfg.IrregularRatio, "irregular-ratio", env.str("IRREGULAR_RATIO", "0.15"), "share of irregular spend added as forecast buffer")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.BoolVar(&cfg.DevSeed, "dev-seed", env.boolean("DEV_SEED", false), "seed a demo account when running in memory")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth-secret must be at least 32 bytes (set %sAUTH_SECRET)", envPrefix))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("refresh-ttl must exceed access-ttl"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.MediumSigma <= 0 || c.LargeSigma < c.MediumSigma {
		errs = append(errs, errors.New("large-sigma must be >= medium-sigma > 0"))
	}
	if r, err := strconv.ParseFloat(c.IrregularRatio, 64); err != nil || r < 0 || r > 1 {
		errs = append(errs, errors.New("irregular-ratio must be a number between 0 and 1"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log-level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// InMemory reports whether the process runs without PostgreSQL.
func (c Config) InMemory() bool { return strings.TrimSpace(c.PGDSN) == "" }

type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(envPrefix + key))
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}
