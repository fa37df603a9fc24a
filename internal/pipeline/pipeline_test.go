package pipeline

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
	"edushield/internal/cohort"
	"edushield/internal/piiguard"
	"edushield/internal/principal"
	"edushield/internal/ratelimit/models"
	"edushield/internal/ratelimit/service"
	"edushield/internal/ratelimit/store/bucket"
)

type PipelineSuite struct {
	suite.Suite
	logger  *slog.Logger
	events  *memory.Store
	limiter *service.Service
}

func (s *PipelineSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.events = memory.New()
	s.limiter = service.New(bucket.NewInMemoryStore(), s.logger)
}

func (s *PipelineSuite) build(fetch FetchFunc) *Pipeline {
	recorder := audit.NewRecorder(s.events, s.logger)
	return New(recorder, s.logger,
		RateLimitStage(s.limiter),
		FetchStage(fetch),
		CohortStage(cohort.New(5, s.logger)),
		PIIStage(piiguard.New(s.logger)),
	)
}

func (s *PipelineSuite) exchange() *Exchange {
	return &Exchange{
		Principal: principal.Principal{ID: "admin-1", Role: principal.RoleAdmin},
		Endpoint:  "/admin/analytics/overview",
		Method:    "GET",
		Action:    audit.ActionViewDashboard,
		Params:    map[string]any{"window": "7d"},
	}
}

func (s *PipelineSuite) TestStageOrder() {
	p := s.build(func(context.Context, *Exchange) (any, error) { return nil, nil })
	require.Equal(s.T(),
		[]string{StageRateLimit, StageFetch, StageCohort, StagePII},
		p.Guards())
}

func (s *PipelineSuite) TestCleanPayloadFlowsThrough() {
	p := s.build(func(context.Context, *Exchange) (any, error) {
		return map[string]any{"total_students": 40, "avg_mastery_score": 0.8}, nil
	})

	payload, err := p.Run(context.Background(), s.exchange())
	require.NoError(s.T(), err)
	require.Equal(s.T(), 0.8, payload.(map[string]any)["avg_mastery_score"])

	events := s.events.Events()
	require.Len(s.T(), events, 1)
	require.Equal(s.T(), audit.ActionViewDashboard, events[0].Action)
	require.True(s.T(), events[0].Success)
	require.Nil(s.T(), events[0].Metadata[audit.MetaCohortSuppression])
}

func (s *PipelineSuite) TestSuppressionIsRecorded() {
	p := s.build(func(context.Context, *Exchange) (any, error) {
		return map[string]any{"total_students": 3, "avg_mastery_score": 0.8}, nil
	})

	payload, err := p.Run(context.Background(), s.exchange())
	require.NoError(s.T(), err)
	require.Equal(s.T(), cohort.Suppressed, payload.(map[string]any)["avg_mastery_score"])

	events := s.events.Events()
	require.Len(s.T(), events, 1)
	require.True(s.T(), events[0].MetaBool(audit.MetaCohortSuppression))
	require.Equal(s.T(), 1, events[0].Metadata[audit.MetaRowsSuppressed])
}

func (s *PipelineSuite) TestPIIBlockShortCircuits() {
	p := s.build(func(context.Context, *Exchange) (any, error) {
		return map[string]any{"student_email": "kid@example.edu"}, nil
	})

	payload, err := p.Run(context.Background(), s.exchange())
	require.Nil(s.T(), payload)

	var blocked *PIIBlockedError
	require.ErrorAs(s.T(), err, &blocked)
	require.Equal(s.T(), "student_email", blocked.Violation.Path)
	// Clients never see the offending field.
	require.NotContains(s.T(), err.Error(), "student_email")

	events := s.events.Events()
	require.Len(s.T(), events, 1)
	require.False(s.T(), events[0].Success)
	require.Equal(s.T(), audit.ReasonPIIBlocked, events[0].MetaString(audit.MetaReason))
	require.Equal(s.T(), "student_email", events[0].MetaString(audit.MetaField))
}

func (s *PipelineSuite) TestRateLimitShortCircuitsBeforeFetch() {
	limits := map[models.Profile]models.Limit{
		models.ProfileAdmin: {MaxRequests: 1, Window: time.Minute},
	}
	s.limiter = service.New(bucket.NewInMemoryStore(), s.logger,
		service.WithLimits(limits))

	fetched := 0
	p := s.build(func(context.Context, *Exchange) (any, error) {
		fetched++
		return map[string]any{"total_students": 40}, nil
	})

	_, err := p.Run(context.Background(), s.exchange())
	require.NoError(s.T(), err)

	_, err = p.Run(context.Background(), s.exchange())
	var limited *RateLimitedError
	require.ErrorAs(s.T(), err, &limited)
	require.GreaterOrEqual(s.T(), limited.Result.RetryAfter, 1)
	require.Equal(s.T(), 1, fetched)
}

func (s *PipelineSuite) TestFetchFailureIsAudited() {
	p := s.build(func(context.Context, *Exchange) (any, error) {
		return nil, errors.New("warehouse unavailable")
	})

	_, err := p.Run(context.Background(), s.exchange())
	require.Error(s.T(), err)

	events := s.events.Events()
	require.Len(s.T(), events, 1)
	require.False(s.T(), events[0].Success)
	require.Equal(s.T(), "processing_error", events[0].MetaString(audit.MetaReason))
	require.Equal(s.T(), StageFetch, events[0].Metadata["stage"])
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}
