package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"argus-siem/internal/config"
)

// WithMiddleware wraps the handler with the standard middleware stack.
func WithMiddleware(handler http.Handler, cfg *config.Config) http.Handler {
	// Applied in reverse order (last applied runs first)
	h := handler

	h = recoveryMiddleware(h)
	h = loggingMiddleware(h)

	if cfg.Headers.Enabled {
		h = securityHeadersMiddleware(h, cfg.Headers)
	}

	if cfg.RateLimit.Enabled {
		h = rateLimitMiddleware(h, cfg.RateLimit)
	}

	if cfg.CORS.Enabled {
		h = corsMiddleware(h, cfg.CORS)
	}

	if cfg.Auth.Enabled {
		h = authMiddleware(h, cfg.Auth)
	}

	return h
}

// securityHeadersMiddleware sets hardening headers on every response.
// This is a JSON API, so a blanket deny CSP is safe.
func securityHeadersMiddleware(next http.Handler, hdrCfg config.SecurityHeaders) http.Handler {
	var hsts string
	if hdrCfg.HSTSEnabled {
		hsts = "max-age=" + strconv.Itoa(hdrCfg.HSTSMaxAge) + "; includeSubDomains"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if hdrCfg.FrameOptions != "" {
			h.Set("X-Frame-Options", hdrCfg.FrameOptions)
		}
		if hdrCfg.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", hdrCfg.ReferrerPolicy)
		}
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// authMiddleware checks for a valid API key.
func authMiddleware(next http.Handler, authCfg config.Auth) http.Handler {
	validKeys := make(map[string]bool)
	for _, key := range authCfg.APIKeys {
		validKeys[key] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(authCfg.APIKeyHeader)
		if apiKey == "" {
			http.Error(w, `{"success":false,"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		if !validKeys[apiKey] {
			http.Error(w, `{"success":false,"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies CORS headers.
func corsMiddleware(next http.Handler, corsCfg config.CORS) http.Handler {
	allowedOrigins := make(map[string]bool)
	allowAll := false
	for _, origin := range corsCfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowedOrigins[origin] = true
	}

	methods := strings.Join(corsCfg.AllowedMethods, ", ")
	headers := strings.Join(corsCfg.AllowedHeaders, ", ")
	exposed := strings.Join(corsCfg.ExposedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowedOrigins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			if corsCfg.AllowCredentials && !allowAll {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(corsCfg.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
