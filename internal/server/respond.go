package server

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable reasons carried in error bodies. Clients branch
// on these, so renaming one is a breaking API change.
const (
	ReasonMissingToken       = "missing_token"
	ReasonMalformedToken     = "malformed_token"
	ReasonExpiredToken       = "expired_token"
	ReasonInvalidSignature   = "invalid_signature"
	ReasonForbidden          = "forbidden"
	ReasonOriginNotAllowed   = "origin_not_allowed"
	ReasonRateLimited        = "rate_limited"
	ReasonNotFound           = "not_found"
	ReasonMethodNotAllowed   = "method_not_allowed"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonBackendTimeout     = "backend_timeout"
)

type errorBody struct {
	Error string `json:"error"`
}

// respondError writes the gateway's structured error body. Reasons are
// generic classifications; internal detail stays in the logs.
func respondError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: reason})
}
