package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Trusted identity headers injected for backends. Backends accept these
// without re-validating the token, so the gateway must strip any inbound
// occurrence before injecting its own.
const (
	IdentityHeader = "X-Gateway-User"
	RoleHeader     = "X-Gateway-Role"
)

// hopByHopHeaders are meaningful for a single transport leg only and must
// not be forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// backendProxy streams requests to a single backend and relays the
// response unchanged. One instance per backend; safe for concurrent use.
type backendProxy struct {
	name    string
	proxy   *httputil.ReverseProxy
	timeout time.Duration
	metrics *Metrics
}

// newBackendProxy builds the reverse proxy for one backend base URL. The
// round trip is bounded by timeout; timeouts surface as 504 and connection
// failures as 502, both with the structured error body.
func newBackendProxy(name string, target *url.URL, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *backendProxy {
	// The per-request context deadline in ServeHTTP bounds the whole round
	// trip, so the transport carries no header timeout of its own.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}

	rp := &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			stripHopByHop(pr.Out.Header)

			// Never trust inbound identity headers.
			pr.Out.Header.Del(IdentityHeader)
			pr.Out.Header.Del(RoleHeader)
			if identity, ok := IdentityFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(IdentityHeader, identity.Subject)
				if identity.Role != "" {
					pr.Out.Header.Set(RoleHeader, identity.Role)
				}
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHop(resp.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// Caller went away; the backend call was abandoned with it.
				logger.Debug("proxy request cancelled by client",
					slog.String("backend", name),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				return
			}

			status := http.StatusBadGateway
			reason := ReasonBackendUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
				reason = ReasonBackendTimeout
			}

			logger.Error("backend request failed",
				slog.String("backend", name),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("error", err.Error()),
			)
			AddError(r.Context(), err)
			respondError(w, status, reason)
		},
	}

	return &backendProxy{name: name, proxy: rp, timeout: timeout, metrics: metrics}
}

// ServeHTTP forwards the request under the backend timeout. The deadline
// shares the request context, so a client disconnect cancels the backend
// call rather than waiting it out.
func (b *backendProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), b.timeout)
	defer cancel()

	start := time.Now()
	b.proxy.ServeHTTP(w, r.WithContext(ctx))
	if b.metrics != nil {
		b.metrics.ObserveBackend(b.name, time.Since(start))
	}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
