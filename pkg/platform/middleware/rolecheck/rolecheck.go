// Package rolecheck enforces the minimum role an endpoint requires.
package rolecheck

import (
	"log/slog"
	"net/http"

	"edushield/internal/principal"
	"edushield/pkg/platform/httputil"
)

// DeniedFunc observes rejected requests. Used by callers that record denials
// in an audit trail; the middleware itself only logs and responds.
type DeniedFunc func(r *http.Request, p principal.Principal, required principal.Role)

// Require rejects requests whose principal does not reach the minimum role.
// Authentication must already have run; an absent principal is treated as
// public so the failure mode stays closed. onDenied may be nil.
func Require(min principal.Role, logger *slog.Logger, onDenied DeniedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, ok := principal.FromContext(ctx)
			if !ok {
				p = principal.Anonymous("")
			}
			if !p.Role.AtLeast(min) {
				logger.WarnContext(ctx, "role check failed",
					"required_role", string(min),
					"principal_role", string(p.Role),
					"path", r.URL.Path,
				)
				if onDenied != nil {
					onDenied(r, p, min)
				}
				httputil.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
