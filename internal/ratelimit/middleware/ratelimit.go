// Package middleware enforces rate limits at the HTTP boundary. The budget
// profile follows the request principal's role; endpoints wrapped with
// Generation use the fixed low-throughput budget instead.
package middleware

import (
	"net/http"
	"strconv"

	"edushield/internal/principal"
	"edushield/internal/ratelimit/models"
	"edushield/internal/ratelimit/service"
	"edushield/pkg/platform/httputil"
)

type rateLimitedBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Limit             int    `json:"limit"`
	WindowSeconds     int    `json:"window_seconds"`
}

// RateLimit limits requests by the principal's role-derived profile. It also
// installs the per-request decision scope, so downstream layers that consult
// the limiter see this decision instead of consuming the budget again.
func RateLimit(svc *service.Service) func(http.Handler) http.Handler {
	return limit(svc, func(p principal.Principal) models.Profile {
		return models.ProfileForRole(p.Role)
	})
}

// Generation limits requests with the fixed generation budget regardless of
// the caller's role. Applied per-route on expensive endpoints.
func Generation(svc *service.Service) func(http.Handler) http.Handler {
	return limit(svc, func(principal.Principal) models.Profile {
		return models.ProfileGeneration
	})
}

func limit(svc *service.Service, selectProfile func(principal.Principal) models.Profile) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = service.WithScope(ctx)
			r = r.WithContext(ctx)

			p, _ := principal.FromContext(ctx)
			profile := selectProfile(p)

			result, err := svc.Check(ctx, p, r.URL.Path, r.Method, profile)
			if err != nil {
				httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				limit, _ := svc.Limit(profile)
				httputil.WriteJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Error:             "rate limit exceeded",
					RetryAfterSeconds: result.RetryAfter,
					Limit:             result.Limit,
					WindowSeconds:     limit.WindowSeconds(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
