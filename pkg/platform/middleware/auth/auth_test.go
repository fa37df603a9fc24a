package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"edushield/internal/principal"
	"edushield/pkg/platform/middleware/metadata"
)

const signingKey = "test-signing-key"

type AuthSuite struct {
	suite.Suite
	handler http.Handler
	seen    *principal.Principal
}

func (s *AuthSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.seen = nil
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := principal.FromContext(r.Context()); ok {
			s.seen = &p
		}
		w.WriteHeader(http.StatusOK)
	})
	s.handler = metadata.ClientMetadata(
		Authenticate(NewHMACValidator(signingKey), logger)(inner))
}

func (s *AuthSuite) token(subject, role, key string) string {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(s.T(), err)
	return signed
}

func (s *AuthSuite) do(authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/analytics/overview", nil)
	req.RemoteAddr = "198.51.100.4:51234"
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *AuthSuite) TestValidToken() {
	rec := s.do("Bearer " + s.token("admin-7", "admin", signingKey))
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.NotNil(s.T(), s.seen)
	require.Equal(s.T(), "admin-7", s.seen.ID)
	require.Equal(s.T(), principal.RoleAdmin, s.seen.Role)
}

func (s *AuthSuite) TestUnknownRoleClaimDowngradesToPublic() {
	rec := s.do("Bearer " + s.token("user-1", "superuser", signingKey))
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Equal(s.T(), principal.RolePublic, s.seen.Role)
}

func (s *AuthSuite) TestMissingHeaderProceedsAsAnonymous() {
	rec := s.do("")
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.NotNil(s.T(), s.seen)
	require.Equal(s.T(), principal.RolePublic, s.seen.Role)
	// Anonymous principals are identified by client IP for rate limiting.
	require.Equal(s.T(), "198.51.100.4", s.seen.ID)
}

func (s *AuthSuite) TestWrongKeyRejected() {
	rec := s.do("Bearer " + s.token("admin-7", "admin", "other-key"))
	require.Equal(s.T(), http.StatusUnauthorized, rec.Code)
	require.Nil(s.T(), s.seen)
}

func (s *AuthSuite) TestExpiredTokenRejected() {
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	require.NoError(s.T(), err)

	rec := s.do("Bearer " + signed)
	require.Equal(s.T(), http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestTokenWithoutSubjectRejected() {
	rec := s.do("Bearer " + s.token("", "admin", signingKey))
	require.Equal(s.T(), http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestNonBearerSchemeRejected() {
	rec := s.do("Basic YWRtaW46aHVudGVyMg==")
	require.Equal(s.T(), http.StatusUnauthorized, rec.Code)
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}
