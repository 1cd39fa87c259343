package catalog

import (
	"strings"
	"time"
)

const (
	detailTTL  = 24 * time.Hour
	episodeTTL = 5 * time.Minute
	searchTTL  = 5 * time.Minute
	defaultTTL = 10 * time.Minute
)

// TTLForPath returns how long the gateway should keep a response for path.
// Episode lists carry signed stream URLs that expire quickly upstream.
func TTLForPath(path string) time.Duration {
	switch {
	case strings.Contains(path, "/detail"):
		return detailTTL
	case strings.Contains(path, "/allepisode"):
		return episodeTTL
	case strings.Contains(path, "/search"):
		return searchTTL
	default:
		return defaultTTL
	}
}
