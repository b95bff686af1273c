package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"argus-siem/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func middlewareConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Auth.Enabled = false
	cfg.CORS.Enabled = false
	cfg.RateLimit.Enabled = false
	return cfg
}

func TestAuthMiddleware(t *testing.T) {
	cfg := middlewareConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"valid-key"}

	h := WithMiddleware(okHandler(), cfg)

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
	}{
		{"valid key", "/api/logs", "valid-key", http.StatusOK},
		{"missing key", "/api/logs", "", http.StatusUnauthorized},
		{"wrong key", "/api/logs", "wrong", http.StatusUnauthorized},
		{"health is open", "/health", "", http.StatusOK},
		{"metrics is open", "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	cfg := middlewareConfig()
	cfg.CORS.Enabled = true
	cfg.CORS.AllowedOrigins = []string{"https://console.example.com"}

	h := WithMiddleware(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unlisted origin gets no CORS grant
	req = httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Allow-Origin for unlisted origin: %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := middlewareConfig()
	cfg.CORS.Enabled = true

	h := WithMiddleware(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/logs", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods on preflight")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	cfg := middlewareConfig()

	h := WithMiddleware(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Errorf("Referrer-Policy = %q", got)
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should be off by default, got %q", got)
	}
}

func TestSecurityHeadersHSTS(t *testing.T) {
	cfg := middlewareConfig()
	cfg.Headers.HSTSEnabled = true

	h := WithMiddleware(okHandler(), cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := middlewareConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerIP = 3
	cfg.RateLimit.BurstSize = 0
	cfg.RateLimit.WindowSize = time.Minute

	h := WithMiddleware(okHandler(), cfg)

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Errorf("4th request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Exempt paths bypass the limiter
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("exempt path status = %d, want 200", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	cfg := middlewareConfig()

	h := WithMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
