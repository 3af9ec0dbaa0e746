package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleworks/paygate/internal/auth"
)

const testSecret = "test-jwt-secret"

func TestAuth(t *testing.T) {
	adminToken, err := auth.GenerateToken("ops@settleworks.io", auth.RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	viewerToken, err := auth.GenerateToken("viewer@settleworks.io", "viewer", testSecret, time.Hour)
	require.NoError(t, err)
	expiredToken, err := auth.GenerateToken("ops@settleworks.io", auth.RoleAdmin, testSecret, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"admin token", "Bearer " + adminToken, http.StatusOK},
		{"non-admin role", "Bearer " + viewerToken, http.StatusUnauthorized},
		{"expired token", "Bearer " + expiredToken, http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", adminToken, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var claims *auth.Claims
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims, _ = auth.ClaimsFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/payments/x/summary", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			Auth(testSecret)(next).ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantStatus == http.StatusOK {
				require.NotNil(t, claims)
				assert.Equal(t, "ops@settleworks.io", claims.Subject)
			}
		})
	}
}
