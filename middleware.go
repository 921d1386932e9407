package main

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/curbside/internal/metrics"
)

type ctxKey int

const cafeCtxKey ctxKey = iota

// cafeFrom returns the authenticated café stored by CafeAuth, if any.
func cafeFrom(ctx context.Context) *Cafe {
	c, _ := ctx.Value(cafeCtxKey).(*Cafe)
	return c
}

// CafeAuth middleware authenticates partner cafés by API key, checked with
// bcrypt against candidates narrowed by the key prefix.
func (a *App) CafeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "API key required")
			return
		}

		cafe := a.validateCafeKey(apiKey)
		if cafe == nil || !cafe.Active {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), cafeCtxKey, cafe)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) validateCafeKey(apiKey string) *Cafe {
	cafes, err := a.DB.GetCafesByAPIKeyPrefix(apiKeyPrefix(apiKey))
	if err != nil || len(cafes) == 0 {
		return nil
	}
	for _, c := range cafes {
		if compareAPIKey(c.APIKeyHash, apiKey) {
			return c
		}
	}
	return nil
}

// AdminAuth middleware accepts either the shared admin secret
// (constant-time compared) or an elevated-role session token. Both failure
// paths return the same generic response so neither leaks which mechanism
// was attempted.
func (a *App) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Secret")
		if token == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
			return
		}
		if !secretEqual(token, a.adminSecret) && !hasAdminRole(token) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Logging middleware logs requests and records the duration histogram.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Observe(duration.Seconds())
		log.Printf("[%s] %s %s %d %v (id: %s)", r.Method, r.URL.Path, r.RemoteAddr, wrapped.statusCode, duration, ResolveIdentity(r))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
