package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strataplatform/api-gateway/internal/token"
)

const testSecret = "server-test-secret"

func testValidator(t *testing.T) *token.Validator {
	t.Helper()
	v, err := token.NewValidator(testSecret, "HS256")
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	return v
}

func signToken(t *testing.T, v *token.Validator, subject, role string, ttl time.Duration) string {
	t.Helper()
	raw, err := v.Sign(subject, role, ttl)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return raw
}

func decodeReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestAuthMiddleware(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name       string
		authHeader func(t *testing.T) string
		wantStatus int
		wantReason string
	}{
		{
			name:       "no header",
			authHeader: func(*testing.T) string { return "" },
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonMissingToken,
		},
		{
			name:       "wrong scheme",
			authHeader: func(t *testing.T) string { return "Basic dXNlcjpwYXNz" },
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonMalformedToken,
		},
		{
			name:       "bearer with garbage",
			authHeader: func(*testing.T) string { return "Bearer not.a.token" },
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonMalformedToken,
		},
		{
			name: "expired token",
			authHeader: func(t *testing.T) string {
				return "Bearer " + signToken(t, v, "alice@example.com", "", -time.Minute)
			},
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonExpiredToken,
		},
		{
			name: "wrong secret",
			authHeader: func(t *testing.T) string {
				other, err := token.NewValidator("a-different-secret", "HS256")
				if err != nil {
					t.Fatal(err)
				}
				return "Bearer " + signToken(t, other, "alice@example.com", "", time.Hour)
			},
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonInvalidSignature,
		},
		{
			name: "valid token",
			authHeader: func(t *testing.T) string {
				return "Bearer " + signToken(t, v, "alice@example.com", "member", time.Hour)
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIdentity *token.Identity
			handler := AuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotIdentity, _ = IdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
			if h := tt.authHeader(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantReason != "" {
				if got := decodeReason(t, rec); got != tt.wantReason {
					t.Errorf("reason = %q, want %q", got, tt.wantReason)
				}
				if gotIdentity != nil {
					t.Error("handler ran despite auth failure")
				}
				return
			}
			if gotIdentity == nil {
				t.Fatal("identity missing from context after valid auth")
			}
			if gotIdentity.Subject != "alice@example.com" {
				t.Errorf("subject = %q", gotIdentity.Subject)
			}
			if gotIdentity.Role != "member" {
				t.Errorf("role = %q", gotIdentity.Role)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		identity   *token.Identity
		wantStatus int
	}{
		{
			name:       "matching role",
			identity:   &token.Identity{Subject: "root@example.com", Role: "admin"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong role",
			identity:   &token.Identity{Subject: "alice@example.com", Role: "member"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no role claim",
			identity:   &token.Identity{Subject: "alice@example.com"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no identity at all",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole("admin")(okHandler())

			req := httptest.NewRequest("DELETE", "/api/v1/content/admin/posts/1", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.identity))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if got := decodeReason(t, rec); got != ReasonForbidden {
					t.Errorf("reason = %q, want %q", got, ReasonForbidden)
				}
			}
		})
	}
}
