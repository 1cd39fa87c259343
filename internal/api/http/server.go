package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dramastream/internal/cachestore"
)

const (
	// CachePrefix namespaces every key written to the store. Bump the version to
	// orphan all previously cached entries.
	CachePrefix = "dramabox:v2:"

	MaxKeyLength = 512
	MaxTTL       = 7 * 24 * time.Hour

	// DefaultGraceWindow keeps entries physically present past their logical expiry so
	// late readers see EXPIRED rather than MISS.
	DefaultGraceWindow = 120 * time.Second

	DefaultWriteLimitPerMinute = 120
	defaultMaxBodyBytes        = int64(4 << 20)
	defaultClientRPS           = 20
	defaultClientBurst         = 60

	defaultContentType = "application/json; charset=utf-8"
)

type Server struct {
	store          cachestore.Store
	logger         *slog.Logger
	now            func() time.Time
	writeToken     string
	writeLimit     int
	graceWindow    time.Duration
	maxBodyBytes   int64
	allowedOrigins map[string]struct{}
	subtitles      *subtitleProxy
	clientRPS      float64
	clientBurst    int
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore binds the durable store. Without one, cache routes answer 500.
func WithStore(store cachestore.Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteToken sets the shared secret for POST /cache. An empty token rejects all writes.
func WithWriteToken(token string) ServerOption {
	return func(s *Server) {
		s.writeToken = strings.TrimSpace(token)
	}
}

func WithWriteRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		if perMinute > 0 {
			s.writeLimit = perMinute
		}
	}
}

func WithGraceWindow(grace time.Duration) ServerOption {
	return func(s *Server) {
		if grace >= 0 {
			s.graceWindow = grace
		}
	}
}

func WithMaxBodyBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// WithAllowedOrigins restricts CORS to the listed origins. An empty list is permissive.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[origin] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			allowed = nil
		}
		s.allowedOrigins = allowed
	}
}

func WithSubtitleProxy(cfg SubtitleProxyConfig) ServerOption {
	return func(s *Server) {
		s.subtitles = newSubtitleProxy(cfg)
	}
}

// WithClientRateLimit sets the per-client token bucket for lookups and subtitle fetches.
// A non-positive rate or burst disables it.
func WithClientRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.clientRPS = rps
		s.clientBurst = burst
	}
}

func NewServer(options ...ServerOption) *Server {
	server := &Server{
		logger:       slog.Default(),
		now:          time.Now,
		writeLimit:   DefaultWriteLimitPerMinute,
		graceWindow:  DefaultGraceWindow,
		maxBodyBytes: defaultMaxBodyBytes,
		clientRPS:    defaultClientRPS,
		clientBurst:  defaultClientBurst,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.subtitles == nil {
		server.subtitles = newSubtitleProxy(SubtitleProxyConfig{})
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/subtitle", s.handleSubtitle)
	mux.HandleFunc("/", s.handleNotFound)

	traced := otelhttp.NewHandler(s.corsMiddleware(s.readLimitMiddleware(mux)), "cache-gateway",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, requestIDMiddleware(accessLogMiddleware(s.logger, traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "cache store is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("store ping failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "degraded",
			"timestamp": s.now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "cache store is not configured")
		return
	}
	writeError(w, http.StatusNotFound, "route not found")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", defaultContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
