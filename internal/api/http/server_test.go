package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"dramastream/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.data[key]
	return value, ok, nil
}

func (f *fakeStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = append([]byte(nil), value...)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testToken = "s3cret"

func newTestServer(store *fakeStore, clock *testClock, opts ...ServerOption) http.Handler {
	base := []ServerOption{WithStore(store), WithClock(clock.Now), WithWriteToken(testToken)}
	return NewServer(append(base, opts...)...).Handler()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 26, 10, 0, time.UTC)}
}

func postCache(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/cache", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getCache(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, domain.CacheLookup) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/cache?path="+url.QueryEscape(path), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var lookup domain.CacheLookup
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &lookup); err != nil {
			t.Fatalf("decode lookup: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, lookup
}

func bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func TestCacheWriteThenRead(t *testing.T) {
	store := newFakeStore()
	clock := newClock()
	handler := newTestServer(store, clock)

	rec := postCache(t, handler, `{"path":"/detail?bookId=42","ttl":60,"payload":{"data":{"bookName":"X"}}}`, bearer())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "WRITE" {
		t.Fatalf("X-Cache = %q, want WRITE", got)
	}
	var result domain.CacheWriteResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode write result: %v", err)
	}
	if !result.OK || result.Key != "/detail?bookId=42" || result.TTL != 60 {
		t.Fatalf("unexpected write result: %+v", result)
	}

	key := CachePrefix + "/detail?bookId=42"
	if ttl := store.ttls[key]; ttl != 60*time.Second+DefaultGraceWindow {
		t.Fatalf("physical ttl = %v, want %v", ttl, 60*time.Second+DefaultGraceWindow)
	}

	rec, lookup := getCache(t, handler, "/detail?bookId=42")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}
	if !lookup.Hit || lookup.Status != 200 || lookup.ContentType != defaultContentType {
		t.Fatalf("unexpected lookup: %+v", lookup)
	}
	if string(lookup.Payload) != `{"data":{"bookName":"X"}}` {
		t.Fatalf("payload = %s", lookup.Payload)
	}
	if want := clock.Now().Add(time.Minute).UnixMilli(); lookup.ExpiresAt != want {
		t.Fatalf("expiresAt = %d, want %d", lookup.ExpiresAt, want)
	}
}

func TestCacheLogicalExpiryWithinGraceWindow(t *testing.T) {
	store := newFakeStore()
	clock := newClock()
	handler := newTestServer(store, clock)

	if rec := postCache(t, handler, `{"path":"/foryou","ttl":30,"payload":[]}`, bearer()); rec.Code != http.StatusOK {
		t.Fatalf("write failed: %d %s", rec.Code, rec.Body.String())
	}

	clock.Advance(30 * time.Second)
	rec, lookup := getCache(t, handler, "/foryou")
	if lookup.Hit {
		t.Fatal("expected logical expiry at now == expiresAt")
	}
	if got := rec.Header().Get("X-Cache"); got != "EXPIRED" {
		t.Fatalf("X-Cache = %q, want EXPIRED", got)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"hit":false}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestCacheMissAndCorruptEntries(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(store, newClock())

	rec, lookup := getCache(t, handler, "/nothing")
	if lookup.Hit || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS, got %q %+v", rec.Header().Get("X-Cache"), lookup)
	}

	store.data[CachePrefix+"/broken"] = []byte("{not json")
	rec, lookup = getCache(t, handler, "/broken")
	if lookup.Hit || rec.Header().Get("X-Cache") != "CORRUPT" {
		t.Fatalf("expected CORRUPT, got %q %+v", rec.Header().Get("X-Cache"), lookup)
	}
}

func TestCacheRejectsInvalidKeys(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock())

	for _, path := range []string{"", "foryou", "/a/../b", "/" + strings.Repeat("x", MaxKeyLength)} {
		rec, _ := getCache(t, handler, path)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("GET %q: expected 400, got %d", path, rec.Code)
		}
		body, _ := json.Marshal(map[string]any{"path": path, "ttl": 10, "payload": 1})
		if rec := postCache(t, handler, string(body), bearer()); rec.Code != http.StatusBadRequest {
			t.Fatalf("POST %q: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestCacheWriteRequiresToken(t *testing.T) {
	store := newFakeStore()
	clock := newClock()
	body := `{"path":"/x","ttl":10,"payload":1}`

	unconfigured := NewServer(WithStore(store), WithClock(clock.Now)).Handler()
	if rec := postCache(t, unconfigured, body, bearer()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without configured secret, got %d", rec.Code)
	}

	handler := newTestServer(store, clock)
	if rec := postCache(t, handler, body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rec.Code)
	}
	if rec := postCache(t, handler, body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
	if rec := postCache(t, handler, body, map[string]string{"X-Cache-Token": testToken}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with X-Cache-Token, got %d", rec.Code)
	}
	if len(store.data) == 0 {
		t.Fatal("expected entry to be stored")
	}
}

func TestCacheWriteRateLimitPerMinute(t *testing.T) {
	store := newFakeStore()
	clock := newClock()
	handler := newTestServer(store, clock, WithWriteRateLimit(2))
	body := `{"path":"/x","ttl":10,"payload":1}`

	for i := 0; i < 2; i++ {
		if rec := postCache(t, handler, body, bearer()); rec.Code != http.StatusOK {
			t.Fatalf("write %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := postCache(t, handler, body, bearer())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "50" {
		t.Fatalf("Retry-After = %q, want 50", got)
	}

	other := bearer()
	other["CF-Connecting-IP"] = "203.0.113.9"
	if rec := postCache(t, handler, body, other); rec.Code != http.StatusOK {
		t.Fatalf("other client should have its own quota, got %d", rec.Code)
	}

	clock.Advance(50 * time.Second)
	if rec := postCache(t, handler, body, bearer()); rec.Code != http.StatusOK {
		t.Fatalf("expected next bucket to accept writes, got %d", rec.Code)
	}

	bucket := clock.Now().Add(-50*time.Second).Unix() / 60
	counter := rateLimitKey("192.0.2.1", bucket)
	if string(store.data[counter]) != "2" || store.ttls[counter] != 2*time.Minute {
		t.Fatalf("unexpected counter %q ttl %v", store.data[counter], store.ttls[counter])
	}
}

func TestCacheWriteValidatesTTL(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(store, newClock())

	for _, body := range []string{
		`{"path":"/x","payload":1}`,
		`{"path":"/x","ttl":0,"payload":1}`,
		`{"path":"/x","ttl":-5,"payload":1}`,
		`{"path":"/x","ttl":"soon","payload":1}`,
		`not json`,
	} {
		if rec := postCache(t, handler, body, bearer()); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	rec := postCache(t, handler, `{"path":"/x","ttl":99999999,"payload":1}`, bearer())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected clamped write to succeed, got %d", rec.Code)
	}
	var result domain.CacheWriteResult
	_ = json.Unmarshal(rec.Body.Bytes(), &result)
	if result.TTL != MaxTTL.Seconds() {
		t.Fatalf("ttl = %v, want %v", result.TTL, MaxTTL.Seconds())
	}
	if ttl := store.ttls[CachePrefix+"/x"]; ttl != MaxTTL {
		t.Fatalf("physical ttl = %v, want %v", ttl, MaxTTL)
	}
}

func TestCacheRoutesWithoutStore(t *testing.T) {
	handler := NewServer().Handler()
	req := httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
		t.Fatalf("expected error body, got %s", rec.Body.String())
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cache?path=/x", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock(), WithAllowedOrigins([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/cache", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("preflight: status %d body %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Cache-Token") {
		t.Fatalf("allow headers = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted origin, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/subtitle?url=ftp://x", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusForbidden {
		t.Fatal("subtitle route must not be origin-gated")
	}
}

func TestCORSPermissiveByDefault(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("vary = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.org" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestHealthReflectsStore(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(store, newClock())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	store.pingErr = errors.New("down")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestClientIPPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.3")
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("forwarded: got %q", got)
	}
	req.Header.Set("CF-Connecting-IP", "203.0.113.5")
	if got := clientIP(req); got != "203.0.113.5" {
		t.Fatalf("cf: got %q", got)
	}
}

func TestCacheWriteBurstUsesWholeQuota(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock())
	body := `{"path":"/detail?bookId=1","ttl":60,"payload":{"ok":true}}`

	for i := 0; i < DefaultWriteLimitPerMinute; i++ {
		if rec := postCache(t, handler, body, bearer()); rec.Code != http.StatusOK {
			t.Fatalf("write %d: expected 200, got %d (%s)", i+1, rec.Code, rec.Body.String())
		}
	}
	rec := postCache(t, handler, body, bearer())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("write %d: expected 429, got %d", DefaultWriteLimitPerMinute+1, rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on quota rejection")
	}
}

func TestReadLimitIsPerClient(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock(), WithClientRateLimit(1, 2))
	get := func(clientIP string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/cache?path=/x", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("CF-Connecting-IP", clientIP)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := get("198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("lookup %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := get("198.51.100.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the bucket is empty, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("throttled response must carry CORS headers, got %q", got)
	}

	if rec := get("198.51.100.2"); rec.Code != http.StatusOK {
		t.Fatalf("other client should not be throttled, got %d", rec.Code)
	}

	headers := bearer()
	headers["CF-Connecting-IP"] = "198.51.100.1"
	if rec := postCache(t, handler, `{"path":"/x","ttl":10,"payload":1}`, headers); rec.Code != http.StatusOK {
		t.Fatalf("writes are governed by the store quota only, got %d", rec.Code)
	}
}

func TestReadLimitCanBeDisabled(t *testing.T) {
	handler := newTestServer(newFakeStore(), newClock(), WithClientRateLimit(0, 0))
	for i := 0; i < 200; i++ {
		if rec, _ := getCache(t, handler, "/x"); rec.Code != http.StatusOK {
			t.Fatalf("lookup %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}
