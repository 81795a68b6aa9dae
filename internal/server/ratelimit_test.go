package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory counter.Store. Set err to simulate an
// unreachable store.
type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int64)}
}

func (f *fakeStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeStore) Ping(context.Context) error { return f.err }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_QuotaWalk(t *testing.T) {
	const limit = 5
	limiter := NewRateLimiter(newFakeStore(), limit, time.Minute, discardLogger(), nil)
	handler := limiter.Middleware(okHandler())

	for i := 1; i <= limit; i++ {
		req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != strconv.Itoa(limit) {
			t.Errorf("request %d: limit header = %q", i, got)
		}
		wantRemaining := strconv.Itoa(limit - i)
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: remaining = %q, want %q", i, got, wantRemaining)
		}
	}

	// The (limit+1)-th request in the same window is rejected.
	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-quota status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("over-quota remaining = %q, want 0", got)
	}
	if body := rec.Body.String(); !strings.Contains(body, ReasonRateLimited) {
		t.Errorf("body = %q, want reason %q", body, ReasonRateLimited)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	store := newFakeStore()
	limiter := NewRateLimiter(store, 1, time.Minute, discardLogger(), nil)

	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	handler := limiter.Middleware(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/content/posts", nil)
		req.RemoteAddr = "10.0.0.2:1111"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request in window: %d, want 429", rec.Code)
	}

	// Next window: quota fully resets.
	limiter.now = func() time.Time { return base.Add(time.Minute) }
	rec := send()
	if rec.Code != http.StatusOK {
		t.Fatalf("first request of new window: %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("new-window remaining = %q, want 0 (limit 1, count 1)", got)
	}
}

func TestRateLimiter_DistinctClients(t *testing.T) {
	limiter := NewRateLimiter(newFakeStore(), 1, time.Minute, discardLogger(), nil)
	handler := limiter.Middleware(okHandler())

	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:2", "10.0.0.3:3"} {
		req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("client %d: status = %d, want 200 (quotas are per-client)", i, rec.Code)
		}
	}
}

func TestRateLimiter_FailOpen(t *testing.T) {
	store := newFakeStore()
	store.setErr(errors.New("connection refused"))
	limiter := NewRateLimiter(store, 1, time.Minute, discardLogger(), nil)
	handler := limiter.Middleware(okHandler())

	// Far past the quota, every request still succeeds and none is a 429.
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
		req.RemoteAddr = "10.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 under fail-open", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("quota headers should be omitted when the store is down")
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "remote addr host",
			remoteAddr: "192.0.2.10:43210",
			want:       "192.0.2.10",
		},
		{
			name:       "first x-forwarded-for hop wins",
			remoteAddr: "10.0.0.1:1",
			xff:        "203.0.113.7, 10.0.0.1",
			want:       "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.11",
			want:       "192.0.2.11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientKey(req); got != tt.want {
				t.Errorf("clientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

