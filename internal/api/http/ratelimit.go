package apihttp

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	rateLimitBucket = time.Minute
	rateLimitTTL    = 2 * rateLimitBucket
)

func rateLimitKey(clientID string, bucket int64) string {
	if clientID == "" {
		clientID = "unknown"
	}
	return CachePrefix + "rl:" + clientID + ":" + strconv.FormatInt(bucket, 10)
}

// allowWrite counts one write against the client's quota for the current minute bucket.
// The counter lives in the shared store, so concurrent writers may briefly overshoot
// the limit. Store failures fail open.
func (s *Server) allowWrite(ctx context.Context, clientID string) (time.Duration, bool) {
	now := s.now()
	bucket := now.Unix() / int64(rateLimitBucket.Seconds())
	key := rateLimitKey(clientID, bucket)

	current := 0
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("rate limit read failed", slog.String("clientIP", clientID), slog.String("error", err.Error()))
		return 0, true
	}
	if found {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(raw))); parseErr == nil && parsed > 0 {
			current = parsed
		}
	}
	if current >= s.writeLimit {
		next := time.Unix((bucket+1)*int64(rateLimitBucket.Seconds()), 0)
		return next.Sub(now), false
	}

	if err := s.store.Put(ctx, key, []byte(strconv.Itoa(current+1)), rateLimitTTL); err != nil {
		s.logger.Warn("rate limit write failed", slog.String("clientIP", clientID), slog.String("error", err.Error()))
	}
	return 0, true
}

func formatRetryAfter(wait time.Duration) string {
	seconds := int(wait.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
