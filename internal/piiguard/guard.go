// Package piiguard is the last line of defense before an analytics payload
// is written to the wire. Analytics must return aggregates; this guard
// rejects any payload whose shape or field names suggest individual records
// leaked through. Detection fails the whole response, never redacts: a
// payload that trips the guard indicates an upstream bug that must surface.
package piiguard

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"edushield/internal/platform/metrics"
)

// MaxDepth bounds payload nesting. Aggregate responses are shallow;
// deeply nested structures are how per-user records hide.
const MaxDepth = 3

// exactDenyKeys block only on exact (case-insensitive) match. "name" is
// here rather than in the substring list so "course_name" stays legal.
var exactDenyKeys = map[string]struct{}{
	"user_id":      {},
	"username":     {},
	"name":         {},
	"first_name":   {},
	"last_name":    {},
	"phone_number": {},
	"street":       {},
	"city":         {},
	"zip":          {},
	"postal_code":  {},
	"ip":           {},
	"ip_address":   {},
	"auth_token":   {},
	"dob":          {},
	"birthdate":    {},
}

// substringDenyPatterns block any key containing them. These fragments have
// no legitimate aggregate meaning, so "student_email" and "parent_phone"
// trip the guard without enumerating every prefix.
var substringDenyPatterns = []string{
	"email",
	"ssn",
	"full_name",
	"address",
	"phone",
	"password",
	"token",
	"session_id",
	"date_of_birth",
}

// Value patterns catch PII that arrived under an innocuous key.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// recordFields are the columns typical of a row pulled straight from a user
// table. Three or more together in list items marks the list as per-user
// data rather than an aggregate series.
var recordFields = []string{"id", "created_at", "updated_at", "status", "role"}

const recordFieldThreshold = 3

// Violation describes why a payload was blocked. Path and Reason are for
// the audit trail and server logs only; clients get a generic error.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) String() string {
	return fmt.Sprintf("%s at %s", v.Reason, orRoot(v.Path))
}

// Guard scans outgoing analytics payloads.
type Guard struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics wires the block counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New builds a Guard.
func New(logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Scan checks a payload and returns the first violation found, or nil when
// the payload is clean. One violation is enough to block the response, so
// scanning short-circuits rather than collecting every problem.
func (g *Guard) Scan(endpoint string, payload any) *Violation {
	v := scanNode(payload, "", 0)
	if v != nil {
		g.logger.Error("pii detected in analytics response",
			"endpoint", endpoint,
			"path", orRoot(v.Path),
			"reason", v.Reason,
		)
		if g.metrics != nil {
			g.metrics.PIIBlocks.Inc()
		}
	}
	return v
}

func scanNode(node any, path string, depth int) *Violation {
	switch v := node.(type) {
	case map[string]any:
		if depth > MaxDepth {
			return &Violation{Path: path, Reason: "nesting depth exceeds aggregate payload limit"}
		}
		for key, value := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if reason := deniedKey(key); reason != "" {
				return &Violation{Path: childPath, Reason: reason}
			}
			if list, ok := value.([]any); ok {
				if viol := scanRecordStructure(key, childPath, list); viol != nil {
					return viol
				}
			}
			if viol := scanNode(value, childPath, depth+1); viol != nil {
				return viol
			}
		}
	case []any:
		if depth > MaxDepth {
			return &Violation{Path: path, Reason: "nesting depth exceeds aggregate payload limit"}
		}
		for i, item := range v {
			if viol := scanNode(item, fmt.Sprintf("%s[%d]", path, i), depth+1); viol != nil {
				return viol
			}
		}
	case string:
		if emailPattern.MatchString(v) {
			return &Violation{Path: path, Reason: "email address in value"}
		}
		if ssnPattern.MatchString(v) {
			return &Violation{Path: path, Reason: "ssn pattern in value"}
		}
	}
	return nil
}

// deniedKey reports why a key is forbidden, or "" when it is allowed.
func deniedKey(key string) string {
	lower := strings.ToLower(key)
	if _, ok := exactDenyKeys[lower]; ok {
		return fmt.Sprintf("forbidden field %q", key)
	}
	for _, fragment := range substringDenyPatterns {
		if strings.Contains(lower, fragment) {
			return fmt.Sprintf("field %q matches forbidden pattern %q", key, fragment)
		}
	}
	return ""
}

// scanRecordStructure flags lists whose items carry enough record columns
// to be individual rows rather than aggregate buckets.
func scanRecordStructure(key, path string, items []any) *Violation {
	if len(items) == 0 {
		return nil
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return nil
	}
	found := 0
	for _, field := range recordFields {
		if _, ok := first[field]; ok {
			found++
		}
	}
	if found >= recordFieldThreshold {
		return &Violation{
			Path:   path,
			Reason: fmt.Sprintf("list %q resembles individual records (%d record fields)", key, found),
		}
	}
	return nil
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
