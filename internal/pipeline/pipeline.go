// Package pipeline composes the enforcement guards around an analytics
// request. Order is load-bearing: the rate limiter runs before any work is
// done, the cohort filter runs on the fetched payload, and the PII scan runs
// last so it sees exactly the bytes that would go to the client. A failing
// guard short-circuits the rest.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"edushield/internal/audit"
	"edushield/internal/cohort"
	"edushield/internal/piiguard"
	"edushield/internal/principal"
	"edushield/internal/ratelimit/models"
)

// Exchange carries one analytics request through the guards.
type Exchange struct {
	Principal principal.Principal
	Endpoint  string
	Method    string
	// Action is the audit action recorded for this endpoint.
	Action string
	// Params are the request parameters, recorded with the audit event.
	Params map[string]any

	// Payload is set by the fetch stage and transformed in place by the
	// guards that follow it.
	Payload any

	RowsSuppressed int
	RateResult     *models.Result
}

// Guard is one enforcement stage.
type Guard interface {
	Name() string
	Run(ctx context.Context, ex *Exchange) error
}

// RateLimitedError aborts the exchange when the principal's budget is
// exhausted. Maps to 429 at the HTTP layer.
type RateLimitedError struct {
	Result *models.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.Result.RetryAfter)
}

// PIIBlockedError aborts the exchange when the outgoing payload failed the
// PII scan. Maps to 403; the violation detail stays server-side.
type PIIBlockedError struct {
	Violation *piiguard.Violation
}

func (e *PIIBlockedError) Error() string {
	return "analytics response blocked: privacy policy violation"
}

// Pipeline runs the guards in order and audits the outcome.
type Pipeline struct {
	guards   []Guard
	recorder *audit.Recorder
	logger   *slog.Logger
}

// New builds a pipeline over the given guards, in execution order.
func New(recorder *audit.Recorder, logger *slog.Logger, guards ...Guard) *Pipeline {
	return &Pipeline{guards: guards, recorder: recorder, logger: logger}
}

// Guards lists the stage names in execution order.
func (p *Pipeline) Guards() []string {
	names := make([]string, len(p.guards))
	for i, g := range p.guards {
		names[i] = g.Name()
	}
	return names
}

// Run drives the exchange through every guard and returns the final payload.
// Success and every non-rate-limit failure are recorded in the audit trail;
// rate-limit rejections are already recorded by the limiter itself.
func (p *Pipeline) Run(ctx context.Context, ex *Exchange) (any, error) {
	for _, g := range p.guards {
		if err := g.Run(ctx, ex); err != nil {
			p.recordFailure(ctx, ex, g.Name(), err)
			return nil, err
		}
	}

	event := audit.Event{
		Endpoint:      ex.Endpoint,
		Action:        ex.Action,
		Method:        ex.Method,
		PrincipalID:   ex.Principal.ID,
		PrincipalRole: string(ex.Principal.Role),
		Success:       true,
		Parameters:    ex.Params,
	}
	if ex.RowsSuppressed > 0 {
		event.Metadata = cohort.Metadata(ex.RowsSuppressed)
	}
	p.recorder.Record(ctx, event)

	return ex.Payload, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, ex *Exchange, stage string, err error) {
	if _, ok := err.(*RateLimitedError); ok {
		return
	}

	metadata := map[string]any{"stage": stage}
	if blocked, ok := err.(*PIIBlockedError); ok {
		metadata[audit.MetaReason] = audit.ReasonPIIBlocked
		metadata[audit.MetaField] = blocked.Violation.Path
	} else {
		metadata[audit.MetaReason] = "processing_error"
		p.logger.ErrorContext(ctx, "analytics pipeline failed",
			"endpoint", ex.Endpoint,
			"stage", stage,
			"error", err,
		)
	}

	p.recorder.Record(ctx, audit.Event{
		Endpoint:      ex.Endpoint,
		Action:        ex.Action,
		Method:        ex.Method,
		PrincipalID:   ex.Principal.ID,
		PrincipalRole: string(ex.Principal.Role),
		Success:       false,
		Parameters:    ex.Params,
		Metadata:      metadata,
	})
}
