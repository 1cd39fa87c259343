package apihttp

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoveryMiddlewareAnswers500(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := recoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("panic value leaked: %s", rec.Body.String())
	}
	if !strings.Contains(logs.String(), `"panic":"boom"`) {
		t.Fatalf("panic not logged: %s", logs.String())
	}
}

func TestRecoveryMiddlewareKeepsAbortHandler(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if recovered := recover(); recovered != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", recovered)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cache", nil))
}

func TestAccessLogRecordsOutcome(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := accessLogMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(cacheHeader, "MISS")
		_, _ = w.Write([]byte(`{"hit":false}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache?path=/detail", nil))

	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, logs.String())
	}
	if entry["route"] != "/cache" || entry["cache"] != "MISS" || entry["cachePath"] != "/detail" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusOK) || entry["bytes"] != float64(len(`{"hit":false}`)) {
		t.Fatalf("unexpected status or size: %v", entry)
	}
}

func TestClientIPPrefersForwardingHeaders(t *testing.T) {
	cases := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"CF-Connecting-IP": "203.0.113.1", "X-Forwarded-For": "198.51.100.1"}, "203.0.113.1"},
		{map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{nil, "192.0.2.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/cache", nil)
		for key, value := range tc.headers {
			req.Header.Set(key, value)
		}
		if got := clientIP(req); got != tc.want {
			t.Fatalf("clientIP(%v) = %q, want %q", tc.headers, got, tc.want)
		}
	}
}
