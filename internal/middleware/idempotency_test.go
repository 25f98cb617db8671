package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/turnforge/internal/middleware"
)

// mockCache is an in-memory mock of cache.Cache for testing.
type mockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(handler http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	c := newMockCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	post(handler, "/turns", "")
	post(handler, "/turns", "")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
	if c.len() != 0 {
		t.Fatal("nothing should be cached without a key")
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	c := newMockCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	rec1 := post(handler, "/api/v1/sessions/s1/turns", "key-1")
	rec2 := post(handler, "/api/v1/sessions/s1/turns", "key-1")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("replayed body %q, want %q", rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
	if rec2.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec2.Header().Get("Content-Type"))
	}
	for _, ttl := range c.ttls {
		if ttl != time.Hour {
			t.Errorf("ttl = %v, want 1h", ttl)
		}
	}
}

func TestIdempotency_ScopedByPath(t *testing.T) {
	counter := 0
	c := newMockCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	post(handler, "/api/v1/sessions/a/turns", "same")
	post(handler, "/api/v1/sessions/b/turns", "same")

	if counter != 2 {
		t.Fatalf("expected 2 calls across sessions, got %d", counter)
	}
}

func TestIdempotency_FailuresNotStored(t *testing.T) {
	counter := 0
	c := newMockCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusInternalServerError))

	post(handler, "/turns", "key-err")
	post(handler, "/turns", "key-err")

	if counter != 2 {
		t.Fatalf("failed responses must not be replayed, got %d calls", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	c := newMockCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/events", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if counter != 1 || c.len() != 0 {
		t.Fatalf("GET should pass through uncached (calls=%d cached=%d)", counter, c.len())
	}
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMockCache(), time.Hour)(makeTestHandler(&counter, http.StatusOK))

	rec := post(handler, "/turns", strings.Repeat("k", 300))
	if rec.Code != http.StatusBadRequest || counter != 0 {
		t.Fatalf("status=%d calls=%d, want 400 and no call", rec.Code, counter)
	}
}

func TestIdempotency_CacheErrorFallsThrough(t *testing.T) {
	counter := 0
	c := newMockCache()
	c.getErr = errors.New("l2 down")
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	rec := post(handler, "/turns", "key-x")
	if rec.Code != http.StatusOK || counter != 1 {
		t.Fatalf("status=%d calls=%d", rec.Code, counter)
	}
}
