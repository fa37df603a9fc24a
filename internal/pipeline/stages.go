package pipeline

import (
	"context"

	"edushield/internal/cohort"
	"edushield/internal/piiguard"
	"edushield/internal/ratelimit/models"
	"edushield/internal/ratelimit/service"
)

// Stage names, in the order analytics endpoints compose them.
const (
	StageRateLimit = "rate_limit"
	StageFetch     = "fetch"
	StageCohort    = "cohort_minimum"
	StagePII       = "pii_response"
)

type rateLimitStage struct {
	svc *service.Service
}

// RateLimitStage checks the principal's role-derived budget. When the
// limiter already ran for this request (the usual case, via middleware), the
// per-request scope makes this a read of the existing decision.
func RateLimitStage(svc *service.Service) Guard {
	return &rateLimitStage{svc: svc}
}

func (s *rateLimitStage) Name() string { return StageRateLimit }

func (s *rateLimitStage) Run(ctx context.Context, ex *Exchange) error {
	result, err := s.svc.Check(ctx, ex.Principal, ex.Endpoint, ex.Method, models.ProfileForRole(ex.Principal.Role))
	if err != nil {
		return err
	}
	ex.RateResult = result
	if !result.Allowed {
		return &RateLimitedError{Result: result}
	}
	return nil
}

// FetchFunc produces the raw analytics payload for an exchange.
type FetchFunc func(ctx context.Context, ex *Exchange) (any, error)

type fetchStage struct {
	fetch FetchFunc
}

// FetchStage wraps the data access call as a pipeline stage so its failures
// flow through the same audit path as guard rejections.
func FetchStage(fetch FetchFunc) Guard {
	return &fetchStage{fetch: fetch}
}

func (s *fetchStage) Name() string { return StageFetch }

func (s *fetchStage) Run(ctx context.Context, ex *Exchange) error {
	payload, err := s.fetch(ctx, ex)
	if err != nil {
		return err
	}
	ex.Payload = payload
	return nil
}

type cohortStage struct {
	guard *cohort.Guard
}

// CohortStage applies k-anonymity suppression to the fetched payload.
func CohortStage(guard *cohort.Guard) Guard {
	return &cohortStage{guard: guard}
}

func (s *cohortStage) Name() string { return StageCohort }

func (s *cohortStage) Run(_ context.Context, ex *Exchange) error {
	payload, suppressed := s.guard.Filter(ex.Endpoint, ex.Payload)
	ex.Payload = payload
	ex.RowsSuppressed += suppressed
	return nil
}

type piiStage struct {
	guard *piiguard.Guard
}

// PIIStage scans the outgoing payload. Runs last: later stages must not
// touch the payload after it passed the scan.
func PIIStage(guard *piiguard.Guard) Guard {
	return &piiStage{guard: guard}
}

func (s *piiStage) Name() string { return StagePII }

func (s *piiStage) Run(_ context.Context, ex *Exchange) error {
	if violation := s.guard.Scan(ex.Endpoint, ex.Payload); violation != nil {
		return &PIIBlockedError{Violation: violation}
	}
	return nil
}
