// Package audit is the append-only compliance trail for the analytics
// enforcement pipeline. Every guard decision and every privileged read of
// the trail itself lands here as an immutable event.
package audit

import (
	"context"
	"time"
)

// Actions recorded by the pipeline and the audit read path. Access to the
// audit trail is itself audited, so the viewer/export actions are part of
// the same catalog.
const (
	ActionViewDashboard     = "view_dashboard"
	ActionViewCourseDetail  = "view_course_detail"
	ActionViewTimeseries    = "view_timeseries"
	ActionExport            = "export"
	ActionAccessDenied      = "access_denied"
	ActionRateLimitExceeded = "rate_limit_exceeded"
	ActionViewAuditSummary  = "view_audit_summary"
	ActionViewAuditLogs     = "view_audit_logs"
	ActionAuditExport       = "audit_export"
)

// Metadata keys with cross-package meaning. Summaries pattern-match on
// these, so guards must use the shared constants rather than ad hoc keys.
const (
	MetaReason            = "reason"
	MetaCohortSuppression = "cohort_suppression"
	MetaRowsSuppressed    = "rows_suppressed"
	MetaField             = "field"
)

// ReasonPIIBlocked marks events produced by the PII response guard. The
// offending field path goes into MetaField, server-side only.
const ReasonPIIBlocked = "PII_BLOCKED"

// Event is one immutable audit record, serialized as a single JSON line.
//
// Invariant: events carry operational metadata only. Raw student
// identifiers, analytics payload contents, and credentials never enter an
// event; guards log counts, reasons, and field paths instead.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     int64          `json:"timestamp"`
	ISOTimestamp  string         `json:"iso_timestamp"`
	Endpoint      string         `json:"endpoint"`
	Action        string         `json:"action"`
	PrincipalRole string         `json:"principal_role"`
	PrincipalID   string         `json:"principal_id"`
	ClientIP      string         `json:"client_ip"`
	UserAgent     string         `json:"user_agent"`
	Method        string         `json:"http_method"`
	Success       bool           `json:"success"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Time returns the event timestamp as time.Time.
func (e Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// MetaString reads a string metadata value, tolerating absent keys.
func (e Event) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaBool reads a boolean metadata value, tolerating absent keys.
func (e Event) MetaBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	b, _ := e.Metadata[key].(bool)
	return b
}

// Store is a durable, append-only event sink. Append must serialize
// concurrent writers; Scan streams events oldest-first and must tolerate a
// torn final record (a crash mid-append corrupts at most one line).
// There are deliberately no update or delete operations.
type Store interface {
	Append(ctx context.Context, event Event) error
	Scan(ctx context.Context, fn func(Event) bool) error
}
