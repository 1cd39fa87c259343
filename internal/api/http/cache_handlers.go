package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"dramastream/internal/domain"
	"dramastream/internal/metrics"
)

const (
	cacheHeader = "X-Cache"

	cacheHit     = "HIT"
	cacheMiss    = "MISS"
	cacheExpired = "EXPIRED"
	cacheCorrupt = "CORRUPT"
	cacheWrite   = "WRITE"
)

var (
	errKeyMissing  = errors.New("path is required")
	errKeyRelative = errors.New("path must start with '/'")
	errKeyTooLong  = errors.New("path is too long")
	errKeyInvalid  = errors.New("path is invalid")
)

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "cache store is not configured")
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && !s.originAllowed(origin) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleCacheGet(w, r)
	case http.MethodPost:
		s.handleCachePost(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := validateCacheKey(path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, found, err := s.store.Get(r.Context(), CachePrefix+path)
	if err != nil {
		s.logger.Error("cache read failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cache store unavailable")
		return
	}
	if !found || len(raw) == 0 {
		s.writeLookup(w, cacheMiss, domain.CacheLookup{})
		return
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("corrupt cache entry", slog.String("path", path), slog.String("error", err.Error()))
		s.writeLookup(w, cacheCorrupt, domain.CacheLookup{})
		return
	}
	if entry.ExpiresAt <= 0 || s.now().UnixMilli() >= entry.ExpiresAt {
		s.writeLookup(w, cacheExpired, domain.CacheLookup{})
		return
	}

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := entry.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	s.writeLookup(w, cacheHit, domain.CacheLookup{
		Hit:         true,
		Status:      status,
		ContentType: contentType,
		Payload:     payload,
		ExpiresAt:   entry.ExpiresAt,
	})
}

func (s *Server) writeLookup(w http.ResponseWriter, result string, lookup domain.CacheLookup) {
	metrics.CacheLookupsTotal.WithLabelValues(strings.ToLower(result)).Inc()
	w.Header().Set(cacheHeader, result)
	writeJSON(w, http.StatusOK, lookup)
}

func (s *Server) handleCachePost(w http.ResponseWriter, r *http.Request) {
	if !s.checkWriteAuth(r) {
		metrics.CacheWritesTotal.WithLabelValues("unauthorized").Inc()
		if s.writeToken == "" {
			writeError(w, http.StatusUnauthorized, "cache write token is not configured")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized token")
		return
	}

	retryAfter, allowed := s.allowWrite(r.Context(), clientIP(r))
	if !allowed {
		metrics.WriteRateLimitedTotal.Inc()
		w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
		writeError(w, http.StatusTooManyRequests, "cache write rate limit exceeded")
		return
	}

	var body domain.CacheWrite
	if err := decodeJSONBody(w, r, s.maxBodyBytes, &body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	if err := validateCacheKey(body.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ttl, ok := parseTTL(body.TTL)
	if !ok {
		writeError(w, http.StatusBadRequest, "ttl must be a number of seconds greater than 0")
		return
	}

	now := s.now()
	logical := time.Duration(ttl * float64(time.Second))
	entry := domain.CacheEntry{
		Status:      body.Status,
		ContentType: body.ContentType,
		Payload:     body.Payload,
		StoredAt:    now.UnixMilli(),
		ExpiresAt:   now.Add(logical).UnixMilli(),
	}
	if entry.Status == 0 {
		entry.Status = http.StatusOK
	}
	if entry.ContentType == "" {
		entry.ContentType = defaultContentType
	}
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage("null")
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}
	if err := s.store.Put(r.Context(), CachePrefix+body.Path, encoded, s.physicalTTL(logical)); err != nil {
		metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		s.logger.Error("cache write failed", slog.String("path", body.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cache store unavailable")
		return
	}

	metrics.CacheWritesTotal.WithLabelValues("ok").Inc()
	w.Header().Set(cacheHeader, cacheWrite)
	writeJSON(w, http.StatusOK, domain.CacheWriteResult{OK: true, Key: body.Path, TTL: ttl})
}

// physicalTTL is the store-level expiry: the logical TTL plus the grace window, capped at MaxTTL.
func (s *Server) physicalTTL(logical time.Duration) time.Duration {
	physical := logical + s.graceWindow
	if physical > MaxTTL {
		return MaxTTL
	}
	return physical
}

func validateCacheKey(path string) error {
	switch {
	case path == "":
		return errKeyMissing
	case !strings.HasPrefix(path, "/"):
		return errKeyRelative
	case len(path) > MaxKeyLength:
		return errKeyTooLong
	case strings.Contains(path, ".."):
		return errKeyInvalid
	}
	return nil
}

// parseTTL returns the TTL in seconds, clamped to MaxTTL. Missing, non-finite and
// non-positive values are rejected.
func parseTTL(raw json.Number) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	ttl, err := raw.Float64()
	if err != nil || math.IsNaN(ttl) || math.IsInf(ttl, 0) || ttl <= 0 {
		return 0, false
	}
	return math.Min(ttl, MaxTTL.Seconds()), true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dest any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	return decoder.Decode(dest)
}
