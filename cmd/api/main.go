package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/config"
	"motolog.org/internal/httpapi"
	"motolog.org/internal/obs"
	"motolog.org/internal/store/memory"
	"motolog.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what the API needs from a store implementation.
type backend interface {
	auth.UserStore
	auth.RefreshTokenStore
	budget.Store
	PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("motolog-api: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	obs.Init()
	obs.SetLevel(cfg.LogLevel)
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store backend
		probe httpapi.ReadyProbe
	)
	if cfg.InMemory() {
		mem := memory.New()
		if cfg.DevSeed {
			if err := seedDemo(ctx, mem); err != nil {
				return fmt.Errorf("seed demo data: %w", err)
			}
		}
		store = mem
		obs.Log("warn", "using in-memory store", map[string]any{"dev_seed": cfg.DevSeed})
	} else {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore}
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.AuthSecret), auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		return err
	}
	authOpts := []auth.ServiceOption{
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	}
	if cfg.RefreshRevocation {
		authOpts = append(authOpts, auth.WithRefreshStore(store))
	}
	authSvc, err := auth.NewService(store, codec, authOpts...)
	if err != nil {
		return err
	}

	ratio, err := decimal.NewFromString(cfg.IrregularRatio)
	if err != nil {
		return fmt.Errorf("irregular-ratio: %w", err)
	}
	classifier := budget.DefaultClassifier()
	classifier.MediumSigma = cfg.MediumSigma
	classifier.LargeSigma = cfg.LargeSigma
	budgetSvc, err := budget.NewService(store,
		budget.WithClassifier(classifier),
		budget.WithForecaster(budget.Forecaster{IrregularRatio: ratio}),
	)
	if err != nil {
		return err
	}

	api, err := httpapi.New(probe, version, authSvc, budgetSvc,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithTrustedProxies(cfg.TrustedProxies))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		obs.Log("info", "http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(probe)
		health.Register(grpcSrv)
		go health.WatchReadiness(ctx, 10*time.Second)
		go func() {
			obs.Log("info", "grpc listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	if cfg.RefreshRevocation {
		go purgeRefreshTokens(ctx, store, time.Hour)
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		stop()
		obs.Log("error", "server failed", map[string]any{"error": err})
	}
	obs.Log("info", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	obs.Log("info", "stopped", nil)
	return nil
}

// purgeRefreshTokens removes expired refresh tokens until ctx is done.
func purgeRefreshTokens(ctx context.Context, store backend, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpiredRefreshTokens(ctx, time.Now().UTC())
			if err != nil {
				obs.Log("warn", "refresh token purge failed", map[string]any{"error": err})
				continue
			}
			if n > 0 {
				obs.Log("info", "purged expired refresh tokens", map[string]any{"count": n})
			}
		}
	}
}
