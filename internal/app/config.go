package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig is the edge cache gateway configuration, read from the environment.
type GatewayConfig struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogFile   string

	AllowedOrigins      []string
	WriteToken          string
	WriteLimitPerMinute int
	ClientRPS           float64
	ClientBurst         int
	MaxBodyBytes        int64

	CacheStore       string
	RedisURL         string
	SQLitePath       string
	MemoryMaxEntries int
	GraceWindow      time.Duration

	SubtitleAllowedHosts []string
	SubtitleTimeout      time.Duration

	OTLPEndpoint string
}

func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8787"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:              getEnv("LOG_FILE", ""),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS"),
		WriteToken:           strings.TrimSpace(os.Getenv("CACHE_WRITE_TOKEN")),
		WriteLimitPerMinute:  getEnvInt("WRITE_RATE_LIMIT_PER_MINUTE", 120),
		ClientRPS:            float64(getEnvNonNegativeInt("GATEWAY_CLIENT_RPS", 20)),
		ClientBurst:          getEnvInt("GATEWAY_CLIENT_BURST", 60),
		MaxBodyBytes:         int64(getEnvInt("CACHE_MAX_BODY_BYTES", 4<<20)),
		CacheStore:           strings.ToLower(getEnv("CACHE_STORE", "memory")),
		RedisURL:             getEnv("REDIS_URL", ""),
		SQLitePath:           getEnv("CACHE_SQLITE_PATH", "dramastream-cache.db"),
		MemoryMaxEntries:     getEnvInt("CACHE_MEMORY_MAX_ENTRIES", 10000),
		GraceWindow:          time.Duration(getEnvNonNegativeInt("CACHE_GRACE_SECONDS", 120)) * time.Second,
		SubtitleAllowedHosts: getEnvList("SUBTITLE_ALLOWED_HOSTS"),
		SubtitleTimeout:      time.Duration(getEnvInt("SUBTITLE_TIMEOUT_SECONDS", 12)) * time.Second,
		OTLPEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvNonNegativeInt is getEnvInt that also accepts 0.
func getEnvNonNegativeInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
