package api

import (
	"crypto/subtle"
	"loadharness/internal/observability"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

// keyedRoutes are the path prefixes whose last segment is a load key.
var keyedRoutes = []string{"/api/log/", "/v1/counters/"}

// routeKey returns the load key addressed by path, or "" for unkeyed routes.
// Middleware runs outside the mux, so r.PathValue is not populated yet.
func routeKey(path string) string {
	for _, prefix := range keyedRoutes {
		if key, ok := strings.CutPrefix(path, prefix); ok && key != "" && !strings.Contains(key, "/") {
			return key
		}
	}
	return ""
}

// requestAttrs are the log attributes shared by request and panic logs.
func requestAttrs(r *http.Request) []any {
	attrs := []any{"method", r.Method, "path", r.URL.Path}
	if key := routeKey(r.URL.Path); key != "" {
		attrs = append(attrs, "key", key)
	}
	return attrs
}

// LoggingMiddleware logs one line per request. Load runs block until the
// whole batch is dispatched, so the line carries the key and the load
// parameters alongside the duration. Server errors are logged at warn level.
// A nil logger uses slog.Default.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger
			if log == nil {
				log = slog.Default()
			}
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			attrs := append(requestAttrs(r),
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if r.Method == http.MethodPost && r.URL.RawQuery != "" {
				attrs = append(attrs, "query", r.URL.RawQuery)
			}

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "HTTP request", attrs...)
		})
	}
}

// MetricsMiddleware records HTTP request metrics. Keyed paths are collapsed
// to their route pattern by the recorder.
func MetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, wrapped.statusCode, time.Since(start).Seconds())
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs it with the
// request and stack. A nil logger uses slog.Default.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log := logger
					if log == nil {
						log = slog.Default()
					}
					attrs := append(requestAttrs(r), "error", err, "stack", string(debug.Stack()))
					log.ErrorContext(r.Context(), "Panic recovered", attrs...)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// acceptedContentTypes are the request bodies POST handlers tolerate. Load
// parameters travel in the query string, so the body is never read.
var acceptedContentTypes = map[string]bool{
	"":                                  true,
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
}

// ContentTypeMiddleware rejects POST/PUT requests with an unexpected body type
func ContentTypeMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				mediaType, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
				if !acceptedContentTypes[strings.TrimSpace(mediaType)] {
					http.Error(w, "Content-Type must be application/json or application/x-www-form-urlencoded", http.StatusUnsupportedMediaType)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware adds CORS headers
func CORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware validates Bearer token authentication.
// If apiKey is empty, authentication is disabled.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := bearerToken(r.Header.Get("Authorization"))
			if reason != "" {
				http.Error(w, reason, http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization header value, or
// returns the reason it cannot.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "Authorization header required"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

// responseWriter records the status code and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}
