package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveSecure(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := SecurityHeaders()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestSecurityHeaders_API(t *testing.T) {
	rec := serveSecure(t, httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil))

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "0",
		"Content-Security-Policy": apiCSP,
		"Referrer-Policy":         "no-referrer",
		"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}
}

func TestSecurityHeaders_Dashboard(t *testing.T) {
	rec := serveSecure(t, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	if got := rec.Header().Get("Content-Security-Policy"); got != dashboardCSP {
		t.Errorf("expected dashboard CSP, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Errorf("dashboard assets should stay cacheable, got Cache-Control %q", got)
	}
}

func TestSecurityHeaders_HSTSOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.TLS = &tls.ConnectionState{}
	rec := serveSecure(t, req)

	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubdomains" {
		t.Errorf("unexpected HSTS header %q", got)
	}
}
