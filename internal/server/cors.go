package server

import (
	"net/http"
)

const (
	allowedMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowedHeaders  = "Authorization, Content-Type, X-Request-ID"
	exposedHeaders  = "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining"
	preflightMaxAge = "86400"
)

// CORSMiddleware negotiates cross-origin access against the configured
// allow-list. Preflight requests from allowed origins are answered
// directly without invoking downstream middleware; other responses are
// annotated so browser clients can read them. Credentials are only granted
// to explicitly listed origins; a wildcard never carries
// Access-Control-Allow-Credentials.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		origins[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			_, listed := origins[origin]
			allowed := origin != "" && (listed || wildcard)

			if isPreflight(r) {
				if !allowed {
					respondError(w, http.StatusForbidden, ReasonOriginNotAllowed)
					return
				}
				h := w.Header()
				if listed {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
				} else {
					h.Set("Access-Control-Allow-Origin", "*")
				}
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Max-Age", preflightMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				h := w.Header()
				if listed {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
				} else {
					h.Set("Access-Control-Allow-Origin", "*")
				}
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isPreflight reports whether the request is a browser CORS preflight. A
// bare OPTIONS without the preflight markers is forwarded like any other
// method.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
