package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-admin-secret"

func serve(t *testing.T, authSecret, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, Actor(c))
	}, AdminAuth(authSecret))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuth(t *testing.T) {
	admin, err := IssueAdminToken(secret, "ops@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)
	viewer, err := IssueAdminToken(secret, "viewer@example.com", "viewer", time.Hour)
	require.NoError(t, err)
	expired, err := IssueAdminToken(secret, "ops@example.com", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	forged, err := IssueAdminToken("other-secret", "ops@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		header string
		status int
		body   string
	}{
		{name: "admin token", secret: secret, header: "Bearer " + admin, status: http.StatusOK, body: "ops@example.com"},
		{name: "missing header", secret: secret, status: http.StatusUnauthorized},
		{name: "not bearer", secret: secret, header: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong role", secret: secret, header: "Bearer " + viewer, status: http.StatusForbidden},
		{name: "expired", secret: secret, header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong key", secret: secret, header: "Bearer " + forged, status: http.StatusUnauthorized},
		{name: "no secret configured", secret: "", header: "Bearer " + admin, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.secret, tt.header)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
