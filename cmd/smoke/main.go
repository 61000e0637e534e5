package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"motolog.org/internal/ids"
)

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	log.SetFlags(0)
	var (
		base     = pflag.String("url", envOr("MOTOLOG_API_URL", "http://localhost:8080"), "API base URL")
		email    = pflag.String("email", "demo@motolog.dev", "account with access to --vehicle")
		password = pflag.String("password", "motolog-demo", "password for --email")
		vehicle  = pflag.String("vehicle", "00000000-0000-4000-8000-0000000000a1", "vehicle to forecast")
	)
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := &client{base: strings.TrimRight(*base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	// A throwaway account proves registration and the vehicle boundary.
	stranger := fmt.Sprintf("smoke-%s@motolog.dev", strings.ToLower(ids.New()))
	if err := c.call(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": stranger, "password": "smoke-pass-123",
	}, http.StatusCreated, nil); err != nil {
		log.Fatalf("register: %v", err)
	}
	var strangerTok tokens
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": stranger, "password": "smoke-pass-123",
	}, http.StatusOK, &strangerTok); err != nil {
		log.Fatalf("login stranger: %v", err)
	}

	var tok tokens
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": *email, "password": *password,
	}, http.StatusOK, &tok); err != nil {
		log.Fatalf("login: %v", err)
	}
	var refreshed tokens
	if err := c.call(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": tok.RefreshToken,
	}, http.StatusOK, &refreshed); err != nil {
		log.Fatalf("refresh: %v", err)
	}

	forecastPath := "/v1/vehicles/" + url.PathEscape(*vehicle) + "/budget/forecast?months_ahead=6&include_irregular=true"
	var fc struct {
		Forecasts []struct {
			Month          string `json:"month"`
			TotalPredicted string `json:"total_predicted"`
		} `json:"forecasts"`
	}
	if err := c.call(ctx, http.MethodGet, forecastPath, refreshed.AccessToken, nil, http.StatusOK, &fc); err != nil {
		log.Fatalf("forecast: %v", err)
	}
	if len(fc.Forecasts) != 6 {
		log.Fatalf("expected 6 forecast points, got %d", len(fc.Forecasts))
	}
	if err := c.call(ctx, http.MethodGet, forecastPath, strangerTok.AccessToken, nil, http.StatusNotFound, nil); err != nil {
		log.Fatalf("vehicle boundary: %v", err)
	}

	if err := c.call(ctx, http.MethodPost, "/v1/auth/logout", "", map[string]string{
		"refresh_token": refreshed.RefreshToken,
	}, http.StatusNoContent, nil); err != nil {
		log.Fatalf("logout: %v", err)
	}

	fmt.Printf("smoke test passed: vehicle=%s first_month=%s total=%s\n",
		*vehicle, fc.Forecasts[0].Month, fc.Forecasts[0].TotalPredicted)
}

func (c *client) call(ctx context.Context, method, path, token string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
