package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func sendFrom(e *echo.Echo, h echo.HandlerFunc, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		e.HTTPErrorHandler(err, e.NewContext(req, rec))
	}
	return rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After '2', got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:5000"); rec.Code != http.StatusOK {
		t.Fatalf("client a first request: expected 200, got %d", rec.Code)
	}
	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:5001"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("client a second request: expected 429, got %d", rec.Code)
	}
	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Fatalf("client b first request: expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_SkipsHealthChecks(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	for i := 0; i < 5; i++ {
		for _, path := range []string{"/health", "/health/db", "/metrics"} {
			rec := sendFrom(e, h, path, "10.0.0.1:4000")
			if rec.Code != http.StatusOK {
				t.Fatalf("%s request %d: expected 200, got %d", path, i+1, rec.Code)
			}
			if rec.Header().Get("X-RateLimit-Limit") != "" {
				t.Errorf("%s: health checks should not carry rate limit headers", path)
			}
		}
	}
}

// An idle client's limiter is dropped once another client's request sweeps
// the store, so the map does not grow with every address ever seen.
func TestRateLimit_ForgetsIdleClients(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		IdleExpiry:        50 * time.Millisecond,
	})

	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000"); rec.Code != http.StatusOK {
		t.Fatalf("client a first request: expected 200, got %d", rec.Code)
	}
	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("client a second request: expected 429, got %d", rec.Code)
	}

	time.Sleep(120 * time.Millisecond)
	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.2:4000"); rec.Code != http.StatusOK {
		t.Fatalf("client b request: expected 200, got %d", rec.Code)
	}

	// Refill alone would keep client a denied for over 15 minutes.
	if rec := sendFrom(e, h, "/api/v1/patients", "10.0.0.1:4000"); rec.Code != http.StatusOK {
		t.Fatalf("client a after idle expiry: expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 {
		t.Errorf("expected RequestsPerSecond 20, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 40 {
		t.Errorf("expected BurstSize 40, got %d", cfg.BurstSize)
	}
	if cfg.IdleExpiry != 3*time.Minute {
		t.Errorf("expected IdleExpiry 3m, got %s", cfg.IdleExpiry)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rps  float64
		want int
	}{
		{0, 1},
		{-1, 1},
		{20, 1},
		{1, 1},
		{0.5, 2},
		{0.3, 4},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.rps); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.rps, got, tt.want)
		}
	}
}
