package domain

import "encoding/json"

// CacheEntry is the durable record stored by the edge cache gateway.
// StoredAt and ExpiresAt are unix milliseconds.
type CacheEntry struct {
	Status      int             `json:"status"`
	ContentType string          `json:"contentType"`
	Payload     json.RawMessage `json:"payload"`
	StoredAt    int64           `json:"storedAt"`
	ExpiresAt   int64           `json:"expiresAt"`
}

// CacheLookup is the body of GET /cache.
type CacheLookup struct {
	Hit         bool            `json:"hit"`
	Status      int             `json:"status,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ExpiresAt   int64           `json:"expiresAt,omitempty"`
}

// CacheWrite is the body of POST /cache. TTL is in seconds.
type CacheWrite struct {
	Path        string          `json:"path"`
	TTL         json.Number     `json:"ttl"`
	Status      int             `json:"status,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// CacheWriteResult is the body of a successful POST /cache.
type CacheWriteResult struct {
	OK  bool    `json:"ok"`
	Key string  `json:"key"`
	TTL float64 `json:"ttl"`
}
