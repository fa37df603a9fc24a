package rolecheck

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edushield/internal/principal"
)

func do(t *testing.T, min principal.Role, p *principal.Principal, onDenied DeniedFunc) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/summary", nil)
	if p != nil {
		req = req.WithContext(principal.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	Require(min, logger, onDenied)(inner).ServeHTTP(rec, req)
	return rec
}

func TestSufficientRolePasses(t *testing.T) {
	p := principal.Principal{ID: "root-1", Role: principal.RoleRoot}
	rec := do(t, principal.RoleAdmin, &p, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExactRolePasses(t *testing.T) {
	p := principal.Principal{ID: "admin-1", Role: principal.RoleAdmin}
	rec := do(t, principal.RoleAdmin, &p, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInsufficientRoleRejected(t *testing.T) {
	p := principal.Principal{ID: "user-1", Role: principal.RoleAuthenticated}

	var denied bool
	rec := do(t, principal.RoleAdmin, &p, func(_ *http.Request, got principal.Principal, required principal.Role) {
		denied = true
		assert.Equal(t, "user-1", got.ID)
		assert.Equal(t, principal.RoleAdmin, required)
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, denied)
}

func TestMissingPrincipalTreatedAsPublic(t *testing.T) {
	rec := do(t, principal.RoleAdmin, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminCannotReachRootRoutes(t *testing.T) {
	p := principal.Principal{ID: "admin-1", Role: principal.RoleAdmin}
	rec := do(t, principal.RoleRoot, &p, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
