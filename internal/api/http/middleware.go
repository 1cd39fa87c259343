package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dramastream/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder remembers the status and size of a response for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// accessLogMiddleware emits one log line and the request metrics per call.
func accessLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		route := routeLabel(r.URL.Path)
		if route != "/metrics" {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Duration("elapsed", elapsed),
			slog.String("clientIP", clientIP(r)),
			slog.String("requestID", w.Header().Get(requestIDHeader)),
		}
		if result := w.Header().Get(cacheHeader); result != "" {
			attrs = append(attrs, slog.String("cache", result))
		}
		query := r.URL.Query()
		if target := query.Get("path"); target != "" {
			attrs = append(attrs, slog.String("cachePath", clip(target, 180)))
		} else if target := query.Get("url"); target != "" {
			attrs = append(attrs, slog.String("subtitleURL", clip(target, 180)))
		}
		logger.LogAttrs(r.Context(), requestLogLevel(route, rec.status), "http request", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			logger.ErrorContext(r.Context(), "handler panic",
				slog.Any("panic", recovered),
				slog.String("route", routeLabel(r.URL.Path)),
				slog.String("requestID", w.Header().Get(requestIDHeader)),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func routeLabel(path string) string {
	switch path {
	case "/health", "/metrics", "/cache", "/subtitle":
		return path
	default:
		return "/other"
	}
}

func requestLogLevel(route string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case route == "/health" || route == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// requestIDMiddleware propagates X-Request-ID, generating one when the caller sent none.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// clientIP identifies the caller for quotas and logs. Forwarding headers are trusted as-is.
func clientIP(r *http.Request) string {
	for _, header := range []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"} {
		value := strings.TrimSpace(r.Header.Get(header))
		if first, _, _ := strings.Cut(value, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}
	return remote
}

func clip(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
