package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/strataplatform/api-gateway/internal/counter"
)

// RateLimiter enforces a fixed-window per-client request quota backed by
// the shared counter store. All counting happens in the store's atomic
// increment-with-expiry; the limiter holds no local counters, so any number
// of gateway instances enforce one combined quota.
type RateLimiter struct {
	store   counter.Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *Metrics

	// now is swappable in tests to cross window boundaries.
	now func() time.Time
}

// NewRateLimiter builds a limiter allowing limit requests per window for
// each client key.
func NewRateLimiter(store counter.Store, limit int, window time.Duration, logger *slog.Logger, metrics *Metrics) *RateLimiter {
	return &RateLimiter{
		store:   store,
		limit:   limit,
		window:  window,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Middleware wraps next with quota enforcement. If the counter store is
// unreachable the request proceeds without limiting (fail-open): gateway
// availability outranks strict quota enforcement.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		windowStart := l.now().Truncate(l.window)
		key := clientKey(r) + ":" + strconv.FormatInt(windowStart.Unix(), 10)

		count, err := l.store.Increment(r.Context(), key, l.window)
		if err != nil {
			l.logger.Warn("counter store unreachable, rate limiting disabled for request",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(l.limit) {
			retryAfter := windowStart.Add(l.window).Sub(l.now())
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			if l.metrics != nil {
				l.metrics.RateLimited()
			}
			respondError(w, http.StatusTooManyRequests, ReasonRateLimited)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey derives the limiting key from the client's network address.
// The first X-Forwarded-For hop wins when present, since the gateway sits
// behind a TLS-terminating load balancer in production. IP keying is the
// stated base policy; it is known to be coarse behind NAT.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
