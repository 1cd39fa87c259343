package apihttp

import (
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter table; the least recently seen client is
// evicted first and starts over with a full bucket.
const maxTrackedClients = 10000

// clientLimiters hands out one token bucket per client address.
type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newClientLimiters(rps float64, burst, size int) *clientLimiters {
	return &clientLimiters{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: lo.Must(lru.New[string, *rate.Limiter](size)),
	}
}

func (c *clientLimiters) allow(clientID string) bool {
	c.mu.Lock()
	limiter, ok := c.buckets.Get(clientID)
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.buckets.Add(clientID, limiter)
	}
	c.mu.Unlock()
	return limiter.Allow()
}

// readLimitMiddleware throttles each client separately. Cache writes pass through:
// their quota is counted in the store by allowWrite.
func (s *Server) readLimitMiddleware(next http.Handler) http.Handler {
	if s.clientRPS <= 0 || s.clientBurst <= 0 {
		return next
	}
	limiters := newClientLimiters(s.clientRPS, s.clientBurst, maxTrackedClients)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health", r.URL.Path == "/metrics":
		case r.URL.Path == "/cache" && r.Method == http.MethodPost:
		case !limiters.allow(clientIP(r)):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
