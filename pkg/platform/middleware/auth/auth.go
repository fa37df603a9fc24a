// Package auth turns upstream-issued bearer tokens into a request principal.
// Token issuance and session management live outside this service; the
// middleware only verifies the signature and reads the (sub, role) claims.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"edushield/internal/principal"
	"edushield/pkg/platform/httputil"
	"edushield/pkg/platform/middleware/metadata"
)

const bearerPrefix = "Bearer "

// Claims are the token claims this subsystem consumes.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens. Kept as an interface so tests can issue
// principals without signing real tokens.
type Validator interface {
	ValidateToken(tokenString string) (principal.Principal, error)
}

// HMACValidator validates HS256 tokens with a shared signing key.
type HMACValidator struct {
	key []byte
}

// NewHMACValidator builds a validator for the given signing key.
func NewHMACValidator(signingKey string) *HMACValidator {
	return &HMACValidator{key: []byte(signingKey)}
}

// ValidateToken parses and verifies a token, returning the principal it names.
func (v *HMACValidator) ValidateToken(tokenString string) (principal.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil {
		return principal.Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return principal.Principal{}, errors.New("token invalid")
	}
	if claims.Subject == "" {
		return principal.Principal{}, errors.New("token missing subject")
	}
	return principal.Principal{
		ID:   claims.Subject,
		Role: principal.ParseRole(claims.Role),
	}, nil
}

// Authenticate resolves the request principal. Requests without an
// Authorization header proceed as public (the role ladder and rate-limit
// profiles handle the difference); requests with a bad token are rejected.
func Authenticate(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get("Authorization")
			if header == "" {
				ctx = principal.WithPrincipal(ctx, principal.Anonymous(metadata.GetClientIP(ctx)))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !strings.HasPrefix(header, bearerPrefix) {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			p, err := validator.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
			if err != nil {
				logger.WarnContext(ctx, "token validation failed", "error", err)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(ctx, p)))
		})
	}
}
