package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/usecase/session"
)

func roleEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl, ok := RoleFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(rl.String()))
	})
}

func TestAuthMiddleware(t *testing.T) {
	open := session.NewAuthenticator(nil, "dev")
	locked := session.NewAuthenticator([]string{"dev-alice", "lab-bob"}, "dev")

	tests := []struct {
		name   string
		auth   Authenticator
		path   string
		header string
		status int
		role   string
	}{
		{"missing header", open, "/sessions", "", http.StatusUnauthorized, ""},
		{"basic scheme", open, "/sessions", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"empty bearer", open, "/sessions", "Bearer ", http.StatusUnauthorized, ""},
		{"open evaluator", open, "/sessions", "Bearer lab-42", http.StatusOK, role.Evaluator.String()},
		{"open developer", open, "/sessions", "Bearer DEV-team", http.StatusOK, role.Developer.String()},
		{"listed developer", locked, "/sessions", "Bearer dev-alice", http.StatusOK, role.Developer.String()},
		{"unlisted token", locked, "/sessions", "Bearer dev-mallory", http.StatusUnauthorized, ""},
		{"health exempt", locked, "/health", "", http.StatusNoContent, ""},
		{"metrics exempt", locked, "/metrics", "", http.StatusNoContent, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, http.NoBody)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			BearerAuthMiddleware(tc.auth)(roleEcho()).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("got %d, want %d", rr.Code, tc.status)
			}
			if tc.status == http.StatusUnauthorized {
				var errResp ErrorResponse
				if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
					t.Fatalf("decode error response: %v", err)
				}
				if errResp.Code != ErrorResponseCodeUnauthorized {
					t.Errorf("error code: got %s", errResp.Code)
				}
				return
			}
			if got := rr.Body.String(); got != tc.role {
				t.Errorf("role: got %q, want %q", got, tc.role)
			}
		})
	}
}
