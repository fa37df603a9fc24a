// Package service implements the rate-limit decision: map a principal to a
// budget profile, consume one request from its fixed window, and audit the
// rejections. The decision runs at most once per request even when both the
// middleware and the enforcement pipeline ask for it.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"edushield/internal/audit"
	"edushield/internal/platform/metrics"
	"edushield/internal/principal"
	"edushield/internal/ratelimit/models"
	"edushield/internal/ratelimit/store/bucket"
)

// Service checks requests against per-profile budgets.
type Service struct {
	store   bucket.Store
	limits  map[models.Profile]models.Limit
	logger  *slog.Logger
	auditor *audit.Recorder
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLimits overrides the default budget table.
func WithLimits(limits map[models.Profile]models.Limit) Option {
	return func(s *Service) {
		s.limits = limits
	}
}

// WithRecorder wires the audit trail for rejection events.
func WithRecorder(r *audit.Recorder) Option {
	return func(s *Service) {
		s.auditor = r
	}
}

// WithMetrics wires the rejection counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New builds a Service over the given counter store.
func New(store bucket.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		limits: models.DefaultLimits(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scope caches decisions for the lifetime of one request so the budget is
// consumed exactly once no matter how many layers consult the limiter.
type scope struct {
	mu      sync.Mutex
	results map[models.Profile]*models.Result
}

type scopeKey struct{}

// WithScope installs a per-request decision cache on the context. The HTTP
// middleware calls this at the top of every request.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{
		results: make(map[models.Profile]*models.Result),
	})
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// Check consumes one request from the principal's budget for the given
// profile. Within a request scope, repeated calls for the same profile
// return the first decision without consuming again.
//
// When the counter store fails, the check fails open: an unavailable Redis
// must not take the whole API down. GENERATION is the exception and fails
// closed, since its budget exists to bound compute spend.
func (s *Service) Check(ctx context.Context, p principal.Principal, endpoint, method string, profile models.Profile) (*models.Result, error) {
	limit, ok := s.limits[profile]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit profile %q", profile)
	}

	sc := scopeFrom(ctx)
	if sc != nil {
		sc.mu.Lock()
		if cached, ok := sc.results[profile]; ok {
			sc.mu.Unlock()
			return cached, nil
		}
		sc.mu.Unlock()
	}

	key := models.BucketKey(identifier(p), profile)
	result, err := s.store.Allow(ctx, key, limit.MaxRequests, limit.Window)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit store unavailable",
			"profile", string(profile),
			"error", err,
		)
		if profile == models.ProfileGeneration {
			result = &models.Result{
				Allowed:    false,
				Limit:      limit.MaxRequests,
				Remaining:  0,
				RetryAfter: limit.WindowSeconds(),
			}
		} else {
			result = &models.Result{
				Allowed:   true,
				Limit:     limit.MaxRequests,
				Remaining: limit.MaxRequests,
			}
		}
	}

	if !result.Allowed {
		s.onRejection(ctx, p, endpoint, method, profile, limit, result)
	}

	if sc != nil {
		sc.mu.Lock()
		sc.results[profile] = result
		sc.mu.Unlock()
	}
	return result, nil
}

// Status reports the principal's current budget without consuming from it.
func (s *Service) Status(ctx context.Context, p principal.Principal, profile models.Profile) (*models.Result, error) {
	limit, ok := s.limits[profile]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit profile %q", profile)
	}
	key := models.BucketKey(identifier(p), profile)
	result, err := s.store.Status(ctx, key, limit.MaxRequests, limit.Window)
	if err != nil {
		return nil, fmt.Errorf("rate limit status: %w", err)
	}
	return result, nil
}

// Limit exposes the configured budget for a profile.
func (s *Service) Limit(profile models.Profile) (models.Limit, bool) {
	limit, ok := s.limits[profile]
	return limit, ok
}

func (s *Service) onRejection(ctx context.Context, p principal.Principal, endpoint, method string, profile models.Profile, limit models.Limit, result *models.Result) {
	s.logger.WarnContext(ctx, "rate limit exceeded",
		"profile", string(profile),
		"endpoint", endpoint,
		"retry_after", result.RetryAfter,
	)
	if s.metrics != nil {
		s.metrics.RecordRateLimitRejection(string(profile))
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Event{
			Endpoint:      endpoint,
			Action:        audit.ActionRateLimitExceeded,
			Method:        method,
			PrincipalID:   p.ID,
			PrincipalRole: string(p.Role),
			Success:       false,
			Metadata: map[string]any{
				audit.MetaReason: fmt.Sprintf(
					"Rate limit exceeded: %d requests per %d seconds (%s)",
					limit.MaxRequests, limit.WindowSeconds(), profile,
				),
				"profile":     string(profile),
				"retry_after": result.RetryAfter,
			},
		})
	}
}

// identifier picks the bucket identity for a principal. Anonymous principals
// carry their client IP as the ID, so the fallback only covers requests that
// bypassed the metadata middleware entirely.
func identifier(p principal.Principal) string {
	if p.ID != "" {
		return p.ID
	}
	return "unknown"
}
