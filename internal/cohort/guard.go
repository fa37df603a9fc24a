// Package cohort applies k-anonymity suppression to aggregate analytics
// payloads. Any metric group whose underlying cohort is smaller than the
// configured minimum gets its sensitive averages masked before the payload
// leaves the server, so small groups cannot be narrowed down to individuals.
package cohort

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"edushield/internal/audit"
	"edushield/internal/platform/metrics"
)

// DefaultMinCohortSize is the k in k-anonymity.
const DefaultMinCohortSize = 5

// Suppressed replaces a metric value that was withheld. A distinct sentinel
// rather than null, so clients can tell "withheld" apart from "not computed".
const Suppressed = "suppressed"

// InsufficientDataReason accompanies the insufficient_data flag on
// suppressed metric groups.
const InsufficientDataReason = "cohort size below minimum threshold for privacy protection"

// populationFields name the counters that tell us how many individuals a
// metric group aggregates over. The first one present wins.
var populationFields = []string{
	"total_enrolled",
	"total_students",
	"unique_students",
	"student_count",
	"total",
	"active_students",
	"unique_users",
	"unique_users_served",
}

// sensitiveMetrics are the fields masked when a cohort is too small. These
// are the aggregates precise enough to leak individual behavior at small n.
var sensitiveMetrics = []string{
	"avg_mastery_score",
	"avg_completion_time_days",
	"avg_study_time_hours",
	"completion_rate",
	"avg_mastery",
	"avg_session_duration_minutes",
	"avg_response_time_ms",
	"avg_response_length_chars",
	"avg_interactions_per_user",
	"retry_rate",
	"avg_lessons_per_student",
	"avg_quiz_attempts",
	"avg_student_mastery",
	"students_improved_count",
}

// Guard suppresses under-sized cohorts in analytics payloads.
type Guard struct {
	minCohortSize int
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics wires the suppression counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New builds a Guard with the given minimum cohort size. Sizes below 1 fall
// back to the default.
func New(minCohortSize int, logger *slog.Logger, opts ...Option) *Guard {
	if minCohortSize < 1 {
		minCohortSize = DefaultMinCohortSize
	}
	g := &Guard{minCohortSize: minCohortSize, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MinCohortSize returns the configured threshold.
func (g *Guard) MinCohortSize() int {
	return g.minCohortSize
}

// Filter walks the payload, masks sensitive metrics in every group whose
// cohort is below the threshold, and returns the payload with the number of
// groups suppressed. Filtering is idempotent: a group already carrying the
// insufficient_data flag is left as is, so running the payload through the
// guard twice counts each suppression once.
//
// Maps and slices are modified in place.
func (g *Guard) Filter(endpoint string, payload any) (any, int) {
	suppressed := g.walk(payload, "")
	if suppressed > 0 {
		g.logger.Info("cohort suppression applied",
			"endpoint", endpoint,
			"rows_suppressed", suppressed,
			"threshold", g.minCohortSize,
		)
		if g.metrics != nil {
			g.metrics.RecordCohortSuppressions(suppressed)
		}
	}
	return payload, suppressed
}

// Metadata builds the audit metadata recorded alongside a response that had
// rows suppressed.
func Metadata(rowsSuppressed int) map[string]any {
	return map[string]any{
		audit.MetaCohortSuppression: true,
		audit.MetaRowsSuppressed:    rowsSuppressed,
	}
}

func (g *Guard) walk(node any, path string) int {
	switch v := node.(type) {
	case map[string]any:
		return g.walkMap(v, path)
	case []any:
		count := 0
		for i, item := range v {
			count += g.walk(item, fmt.Sprintf("%s[%d]", path, i))
		}
		return count
	default:
		return 0
	}
}

func (g *Guard) walkMap(m map[string]any, path string) int {
	count := 0
	if size, ok := cohortSize(m); ok && size < g.minCohortSize {
		if g.suppress(m) {
			count++
			g.logger.Debug("metric group suppressed",
				"path", orRoot(path),
				"cohort_size", size,
				"threshold", g.minCohortSize,
			)
		}
	}
	for key, value := range m {
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		count += g.walk(value, childPath)
	}
	return count
}

// suppress masks the sensitive metrics present in a group. Returns false
// when the group was already flagged or carries no maskable metric.
func (g *Guard) suppress(m map[string]any) bool {
	if flagged, _ := m["insufficient_data"].(bool); flagged {
		return false
	}
	masked := false
	for _, metric := range sensitiveMetrics {
		if value, ok := m[metric]; ok && value != nil && value != Suppressed {
			m[metric] = Suppressed
			masked = true
		}
	}
	if masked {
		m["insufficient_data"] = true
		m["insufficient_data_reason"] = InsufficientDataReason
	}
	return masked
}

// cohortSize reads the population counter from a metric group.
func cohortSize(m map[string]any) (int, bool) {
	for _, field := range populationFields {
		if value, ok := m[field]; ok {
			if n, ok := asInt(value); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
