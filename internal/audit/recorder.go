package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"edushield/internal/platform/metrics"
	"edushield/internal/principal"
	"edushield/pkg/platform/middleware/metadata"
)

// Recorder writes audit events. Record never returns an error: a failed
// append must not break the request that triggered it, but the failure is
// pushed to the operational logger and the write-failure counter so it
// cannot pass silently.
type Recorder struct {
	store   Store
	exports Store
	oplog   *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithExportStream adds the dedicated high-visibility sink that export
// events are duplicated into.
func WithExportStream(store Store) Option {
	return func(r *Recorder) {
		r.exports = store
	}
}

// WithMetrics wires the write-failure counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder builds a Recorder over the primary audit store. oplog is the
// stderr channel used when the store itself fails.
func NewRecorder(store Store, oplog *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{store: store, oplog: oplog}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record enriches and appends one event to the primary stream.
func (r *Recorder) Record(ctx context.Context, event Event) {
	r.enrich(ctx, &event)
	r.append(ctx, r.store, event)
}

// RecordExport appends an export event to both the primary stream and the
// dedicated export stream. Exports are rarer and higher-risk than ordinary
// access, so they get their own grep-able file.
func (r *Recorder) RecordExport(ctx context.Context, event Event) {
	r.enrich(ctx, &event)
	r.append(ctx, r.store, event)
	if r.exports != nil {
		r.append(ctx, r.exports, event)
	}
	if r.metrics != nil {
		r.metrics.AuditExports.Inc()
	}
}

func (r *Recorder) enrich(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.Timestamp == 0 {
		event.Timestamp = now.Unix()
	}
	if event.ISOTimestamp == "" {
		event.ISOTimestamp = time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339)
	}
	if event.ClientIP == "" {
		event.ClientIP = metadata.GetClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = metadata.GetUserAgent(ctx)
	}
	if event.PrincipalID == "" || event.PrincipalRole == "" {
		if p, ok := principal.FromContext(ctx); ok {
			if event.PrincipalID == "" {
				event.PrincipalID = p.ID
			}
			if event.PrincipalRole == "" {
				event.PrincipalRole = string(p.Role)
			}
		}
	}
	if event.PrincipalRole == "" {
		event.PrincipalRole = string(principal.RolePublic)
	}
	if event.UserAgent != "" {
		ua := useragent.New(event.UserAgent)
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		if name, _ := ua.Browser(); name != "" {
			event.Metadata["ua_browser"] = name
		}
		if ua.Bot() {
			event.Metadata["ua_bot"] = true
		}
	}
}

func (r *Recorder) append(ctx context.Context, store Store, event Event) {
	if err := store.Append(ctx, event); err != nil {
		// Availability of the primary feature outranks audit completeness,
		// but the loss has to be visible to operators.
		r.oplog.ErrorContext(ctx, "audit append failed",
			"endpoint", event.Endpoint,
			"action", event.Action,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.AuditWriteFailures.Inc()
		}
	}
}
