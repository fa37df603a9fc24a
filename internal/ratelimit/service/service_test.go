package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"edushield/internal/audit"
	"edushield/internal/audit/store/memory"
	"edushield/internal/principal"
	"edushield/internal/ratelimit/models"
	"edushield/internal/ratelimit/store/bucket"
)

type failingStore struct {
	err error
}

func (f *failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, f.err
}

func (f *failingStore) Status(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, f.err
}

func (f *failingStore) Reset(context.Context, string) error {
	return f.err
}

type ServiceSuite struct {
	suite.Suite
	logger *slog.Logger
	events *memory.Store
}

func (s *ServiceSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.events = memory.New()
}

func (s *ServiceSuite) newService(store bucket.Store, opts ...Option) *Service {
	recorder := audit.NewRecorder(s.events, s.logger)
	opts = append(opts, WithRecorder(recorder))
	return New(store, s.logger, opts...)
}

func (s *ServiceSuite) TestChecksOncePerRequestScope() {
	svc := s.newService(bucket.NewInMemoryStore())
	p := principal.Principal{ID: "user-1", Role: principal.RoleAuthenticated}

	ctx := WithScope(context.Background())
	first, err := svc.Check(ctx, p, "/admin/analytics/overview", "GET", models.ProfileAuthenticated)
	require.NoError(s.T(), err)
	require.True(s.T(), first.Allowed)

	second, err := svc.Check(ctx, p, "/admin/analytics/overview", "GET", models.ProfileAuthenticated)
	require.NoError(s.T(), err)
	require.Same(s.T(), first, second)

	// Only one request was consumed from the budget.
	status, err := svc.Status(ctx, p, models.ProfileAuthenticated)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 119, status.Remaining)
}

func (s *ServiceSuite) TestConsumesPerCallWithoutScope() {
	svc := s.newService(bucket.NewInMemoryStore())
	p := principal.Principal{ID: "user-1", Role: principal.RoleAuthenticated}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Check(ctx, p, "/admin/analytics/overview", "GET", models.ProfileAuthenticated)
		require.NoError(s.T(), err)
	}

	status, err := svc.Status(ctx, p, models.ProfileAuthenticated)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 117, status.Remaining)
}

func (s *ServiceSuite) TestRejectionIsAudited() {
	svc := s.newService(bucket.NewInMemoryStore(), WithLimits(map[models.Profile]models.Limit{
		models.ProfilePublic: {MaxRequests: 1, Window: time.Minute},
	}))
	p := principal.Anonymous("198.51.100.7")
	ctx := context.Background()

	res, err := svc.Check(ctx, p, "/admin/analytics/overview", "GET", models.ProfilePublic)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)

	res, err = svc.Check(ctx, p, "/admin/analytics/overview", "GET", models.ProfilePublic)
	require.NoError(s.T(), err)
	require.False(s.T(), res.Allowed)
	require.GreaterOrEqual(s.T(), res.RetryAfter, 1)

	events := s.events.Events()
	require.Len(s.T(), events, 1)
	require.Equal(s.T(), audit.ActionRateLimitExceeded, events[0].Action)
	require.False(s.T(), events[0].Success)
	require.Contains(s.T(), events[0].MetaString(audit.MetaReason), "Rate limit")
	require.Equal(s.T(), "198.51.100.7", events[0].PrincipalID)
}

func (s *ServiceSuite) TestFailsOpenOnStoreError() {
	svc := s.newService(&failingStore{err: errors.New("connection refused")})
	p := principal.Principal{ID: "user-1", Role: principal.RoleAdmin}

	res, err := svc.Check(context.Background(), p, "/admin/analytics/overview", "GET", models.ProfileAdmin)
	require.NoError(s.T(), err)
	require.True(s.T(), res.Allowed)
	require.Empty(s.T(), s.events.Events())
}

func (s *ServiceSuite) TestGenerationFailsClosedOnStoreError() {
	svc := s.newService(&failingStore{err: errors.New("connection refused")})
	p := principal.Principal{ID: "user-1", Role: principal.RoleAdmin}

	res, err := svc.Check(context.Background(), p, "/admin/reports/generate", "POST", models.ProfileGeneration)
	require.NoError(s.T(), err)
	require.False(s.T(), res.Allowed)
	require.Equal(s.T(), 3600, res.RetryAfter)
}

func (s *ServiceSuite) TestUnknownProfileRejected() {
	svc := s.newService(bucket.NewInMemoryStore())
	_, err := svc.Check(context.Background(), principal.Anonymous("1.2.3.4"), "/", "GET", models.Profile("BOGUS"))
	require.Error(s.T(), err)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
