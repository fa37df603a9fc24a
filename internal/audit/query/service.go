// Package query is the read side of the audit trail. Admins get aggregate
// enforcement statistics; only root sees individual entries, and even those
// are sanitized so raw principal identifiers never leave the server. Every
// read of the trail is itself recorded in the trail.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"edushield/internal/audit"
	"edushield/internal/principal"
)

// ErrForbidden is returned when the caller's role does not meet the
// operation's requirement.
var ErrForbidden = errors.New("insufficient role for audit access")

// MaxPageSize caps one page of audit entries.
const MaxPageSize = 1000

// DefaultPageSize applies when the caller does not ask for a limit.
const DefaultPageSize = 100

// analyticsAccessActions are the read actions counted as analytics traffic.
var analyticsAccessActions = map[string]struct{}{
	audit.ActionViewDashboard:    {},
	audit.ActionViewCourseDetail: {},
	audit.ActionViewTimeseries:   {},
}

// privilegedAuditActions are reads of the audit trail itself.
var privilegedAuditActions = map[string]struct{}{
	audit.ActionViewAuditSummary: {},
	audit.ActionViewAuditLogs:    {},
	audit.ActionAuditExport:      {},
}

// Service reads the audit trail.
type Service struct {
	store    audit.Store
	recorder *audit.Recorder
	logger   *slog.Logger
}

// New builds a Service. The recorder writes the self-audit events for every
// summary, query, and export collection.
func New(store audit.Store, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger}
}

// Summary is the aggregate view available to admins. No individual entries,
// no principal identifiers.
type Summary struct {
	TimeWindow string `json:"time_window"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`

	PIIBlocks           int `json:"pii_blocks"`
	CohortSuppressions  int `json:"cohort_suppressions"`
	RateLimitViolations int `json:"rate_limit_violations"`

	AnalyticsAccessCount  int `json:"analytics_access_count"`
	AnalyticsExportCount  int `json:"analytics_export_count"`
	AccessFailures        int `json:"access_failures"`
	PrivilegedAuditAccess int `json:"privileged_audit_access"`

	TotalEnforcementEvents int `json:"total_enforcement_events"`
	TotalAnalyticsRequests int `json:"total_analytics_requests"`

	// Percentages rounded to two decimals.
	EnforcementRate float64 `json:"enforcement_rate"`
	FailureRate     float64 `json:"failure_rate"`

	TopEndpoints []EndpointCount `json:"top_endpoints"`
}

// EndpointCount pairs an endpoint with its access count.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// ParseWindow maps a window label to its duration. Unknown labels fall back
// to seven days.
func ParseWindow(label string) (string, time.Duration) {
	switch label {
	case "1d":
		return label, 24 * time.Hour
	case "7d":
		return label, 7 * 24 * time.Hour
	case "30d":
		return label, 30 * 24 * time.Hour
	case "90d":
		return label, 90 * 24 * time.Hour
	default:
		return "7d", 7 * 24 * time.Hour
	}
}

// Summarize aggregates enforcement activity over the window. Requires admin
// or above.
func (s *Service) Summarize(ctx context.Context, p principal.Principal, windowLabel string) (*Summary, error) {
	if !p.Role.AtLeast(principal.RoleAdmin) {
		return nil, ErrForbidden
	}

	label, window := ParseWindow(windowLabel)
	now := time.Now().UTC()
	start := now.Add(-window)

	s.recorder.Record(ctx, audit.Event{
		Endpoint: "/admin/audit/summary",
		Action:   audit.ActionViewAuditSummary,
		Success:  true,
		Parameters: map[string]any{
			"time_window": label,
		},
	})

	summary := &Summary{
		TimeWindow: label,
		StartTime:  start.Format(time.RFC3339),
		EndTime:    now.Format(time.RFC3339),
	}

	endpointCounts := map[string]int{}
	err := s.store.Scan(ctx, func(event audit.Event) bool {
		if event.Timestamp < start.Unix() {
			return true
		}

		endpointCounts[event.Endpoint]++

		if _, ok := analyticsAccessActions[event.Action]; ok {
			summary.AnalyticsAccessCount++
			summary.TotalAnalyticsRequests++
		}
		if event.Action == audit.ActionExport {
			summary.AnalyticsExportCount++
			summary.TotalAnalyticsRequests++
		}
		if _, ok := privilegedAuditActions[event.Action]; ok {
			summary.PrivilegedAuditAccess++
		}
		if !event.Success {
			summary.AccessFailures++
		}

		reason := event.MetaString(audit.MetaReason)
		switch {
		case event.Action == audit.ActionRateLimitExceeded:
			summary.RateLimitViolations++
			summary.TotalEnforcementEvents++
		case reason == audit.ReasonPIIBlocked:
			summary.PIIBlocks++
			summary.TotalEnforcementEvents++
		}
		if event.MetaBool(audit.MetaCohortSuppression) {
			summary.CohortSuppressions++
			summary.TotalEnforcementEvents++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit trail: %w", err)
	}

	if summary.TotalAnalyticsRequests > 0 {
		summary.EnforcementRate = roundPercent(summary.TotalEnforcementEvents, summary.TotalAnalyticsRequests)
		summary.FailureRate = roundPercent(summary.AccessFailures, summary.TotalAnalyticsRequests)
	}
	summary.TopEndpoints = topEndpoints(endpointCounts, 5)

	return summary, nil
}

// Filters narrow a log query. Zero-valued fields match everything.
type Filters struct {
	Start    time.Time
	End      time.Time
	Endpoint string
	Action   string
	Success  *bool
	Limit    int
	Offset   int
}

func (f *Filters) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f Filters) matches(event audit.Event) bool {
	if !f.Start.IsZero() && event.Timestamp < f.Start.Unix() {
		return false
	}
	if !f.End.IsZero() && event.Timestamp > f.End.Unix() {
		return false
	}
	if f.Endpoint != "" && event.Endpoint != f.Endpoint {
		return false
	}
	if f.Action != "" && event.Action != f.Action {
		return false
	}
	if f.Success != nil && event.Success != *f.Success {
		return false
	}
	return true
}

// SanitizedEvent is an audit entry as exposed to root. The raw principal ID
// is replaced by a stable hash so reviewers can correlate a principal's
// activity without learning who it is.
type SanitizedEvent struct {
	Timestamp     int64          `json:"timestamp"`
	ISOTimestamp  string         `json:"iso_timestamp"`
	Endpoint      string         `json:"endpoint"`
	Action        string         `json:"action"`
	PrincipalRole string         `json:"principal_role"`
	PrincipalHash string         `json:"principal_hash,omitempty"`
	ClientIP      string         `json:"client_ip"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Method        string         `json:"http_method"`
	Success       bool           `json:"success"`
	Parameters    map[string]any `json:"parameters"`
	Metadata      map[string]any `json:"metadata"`
}

// Pagination describes the page returned by Query.
type Pagination struct {
	TotalMatched int  `json:"total_matched"`
	Returned     int  `json:"returned"`
	Offset       int  `json:"offset"`
	Limit        int  `json:"limit"`
	HasMore      bool `json:"has_more"`
}

// AvailableFilters lists the distinct endpoint and action values present in
// the trail, as filter suggestions for the reviewer.
type AvailableFilters struct {
	Endpoints []string `json:"endpoints"`
	Actions   []string `json:"actions"`
}

// Result is one page of sanitized audit entries.
type Result struct {
	Logs       []SanitizedEvent `json:"logs"`
	Pagination Pagination       `json:"pagination"`
	Available  AvailableFilters `json:"available_filters"`
}

// Query returns a filtered, paginated page of sanitized entries. Root only.
func (s *Service) Query(ctx context.Context, p principal.Principal, filters Filters) (*Result, error) {
	if !p.Role.AtLeast(principal.RoleRoot) {
		return nil, ErrForbidden
	}
	filters.normalize()

	s.recorder.Record(ctx, audit.Event{
		Endpoint: "/root/audit/logs",
		Action:   audit.ActionViewAuditLogs,
		Success:  true,
		Parameters: map[string]any{
			"endpoint": filters.Endpoint,
			"action":   filters.Action,
			"limit":    filters.Limit,
			"offset":   filters.Offset,
		},
	})

	result := &Result{Logs: []SanitizedEvent{}}
	endpoints := map[string]struct{}{}
	actions := map[string]struct{}{}

	err := s.store.Scan(ctx, func(event audit.Event) bool {
		if event.Endpoint != "" {
			endpoints[event.Endpoint] = struct{}{}
		}
		if event.Action != "" {
			actions[event.Action] = struct{}{}
		}
		if !filters.matches(event) {
			return true
		}
		result.Pagination.TotalMatched++
		if result.Pagination.TotalMatched > filters.Offset && len(result.Logs) < filters.Limit {
			result.Logs = append(result.Logs, sanitize(event))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit trail: %w", err)
	}

	result.Pagination.Returned = len(result.Logs)
	result.Pagination.Offset = filters.Offset
	result.Pagination.Limit = filters.Limit
	result.Pagination.HasMore = result.Pagination.TotalMatched > filters.Offset+filters.Limit
	result.Available = AvailableFilters{
		Endpoints: sortedKeys(endpoints),
		Actions:   sortedKeys(actions),
	}
	return result, nil
}

// CollectForExport gathers sanitized entries in the date range, up to max.
// The total matched count keeps counting past the cap so the caller can
// report how much an over-sized export would have contained.
func (s *Service) CollectForExport(ctx context.Context, start, end time.Time, max int) ([]SanitizedEvent, int, error) {
	var events []SanitizedEvent
	total := 0
	err := s.store.Scan(ctx, func(event audit.Event) bool {
		if event.Timestamp < start.Unix() || event.Timestamp > end.Unix() {
			return true
		}
		total++
		if total <= max {
			events = append(events, sanitize(event))
		}
		return true
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan audit trail: %w", err)
	}
	return events, total, nil
}

// DayRange expands two YYYY-MM-DD dates into [start 00:00:00, end 23:59:59]
// UTC bounds.
func DayRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	return start, end.Add(24*time.Hour - time.Second), nil
}

// HashPrincipal derives the stable pseudonym exposed in sanitized entries.
func HashPrincipal(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "user_" + hex.EncodeToString(sum[:])[:8]
}

func sanitize(event audit.Event) SanitizedEvent {
	out := SanitizedEvent{
		Timestamp:     event.Timestamp,
		ISOTimestamp:  event.ISOTimestamp,
		Endpoint:      event.Endpoint,
		Action:        event.Action,
		PrincipalRole: event.PrincipalRole,
		ClientIP:      event.ClientIP,
		UserAgent:     event.UserAgent,
		Method:        event.Method,
		Success:       event.Success,
		Parameters:    event.Parameters,
		Metadata:      event.Metadata,
	}
	if out.ISOTimestamp == "" {
		out.ISOTimestamp = event.Time().Format(time.RFC3339)
	}
	if event.PrincipalID != "" {
		out.PrincipalHash = HashPrincipal(event.PrincipalID)
	}
	if out.Parameters == nil {
		out.Parameters = map[string]any{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

func topEndpoints(counts map[string]int, n int) []EndpointCount {
	out := make([]EndpointCount, 0, len(counts))
	for endpoint, count := range counts {
		out = append(out, EndpointCount{Endpoint: endpoint, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func roundPercent(part, whole int) float64 {
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
