package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "dramastream/internal/api/http"
	"dramastream/internal/app"
	"dramastream/internal/cachestore"
	"dramastream/internal/metrics"
	"dramastream/internal/telemetry"
)

const serviceName = "cache-gateway"

func main() {
	cfg := app.LoadGatewayConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("cacheStore", cfg.CacheStore),
		slog.Bool("hasWriteToken", cfg.WriteToken != ""),
		slog.Int("writeLimitPerMinute", cfg.WriteLimitPerMinute),
		slog.Float64("clientRPS", cfg.ClientRPS),
		slog.Duration("graceWindow", cfg.GraceWindow),
		slog.Int("allowedOrigins", len(cfg.AllowedOrigins)),
		slog.Int("subtitleHosts", len(cfg.SubtitleAllowedHosts)),
	)
	if cfg.WriteToken == "" {
		logger.Warn("CACHE_WRITE_TOKEN is not set, cache writes will be rejected")
	}

	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	handler := apihttp.NewServer(
		apihttp.WithLogger(logger),
		apihttp.WithStore(store),
		apihttp.WithWriteToken(cfg.WriteToken),
		apihttp.WithWriteRateLimit(cfg.WriteLimitPerMinute),
		apihttp.WithGraceWindow(cfg.GraceWindow),
		apihttp.WithMaxBodyBytes(cfg.MaxBodyBytes),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
		apihttp.WithClientRateLimit(cfg.ClientRPS, cfg.ClientBurst),
		apihttp.WithSubtitleProxy(apihttp.SubtitleProxyConfig{
			AllowedHosts: cfg.SubtitleAllowedHosts,
			Timeout:      cfg.SubtitleTimeout,
		}),
	).Handler()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("cache gateway started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("cache gateway stopped")
}

// openStore picks the durable store. Redis and SQLite failures fall back to the
// in-memory store so the gateway stays up.
func openStore(cfg app.GatewayConfig, logger *slog.Logger) (cachestore.Store, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cfg.CacheStore {
	case cachestore.BackendRedis:
		store, err := cachestore.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis not reachable, using in-memory store", slog.String("error", err.Error()))
			break
		}
		logger.Info("redis store connected")
		return store, func() { _ = store.Close() }
	case cachestore.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Warn("could not create sqlite directory", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
		store, err := cachestore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Warn("sqlite store unavailable, using in-memory store", slog.String("error", err.Error()))
			break
		}
		logger.Info("sqlite store opened", slog.String("path", cfg.SQLitePath))
		return store, func() { _ = store.Close() }
	case cachestore.BackendMemory, "":
	default:
		logger.Warn("unknown CACHE_STORE, using in-memory store", slog.String("value", cfg.CacheStore))
	}
	return cachestore.NewMemoryStore(cfg.MemoryMaxEntries), func() {}
}

func newLogger(levelRaw, formatRaw, file string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	var out io.Writer = os.Stdout
	if file = strings.TrimSpace(file); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err == nil {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(out, options))
	}
	return slog.New(slog.NewTextHandler(out, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
