// Package export gates audit log exports. An export moves audit data out of
// the system's control, so it gets stricter validation than a query: bounded
// date range, bounded volume, a stated reason, and explicit confirmation
// once the volume crosses the warning threshold.
package export

import (
	"fmt"
	"strings"
	"time"

	"edushield/internal/audit/query"
)

// Default limits on a single export.
const (
	DefaultMaxDays          = 365
	DefaultMaxEntries       = 50000
	DefaultWarningThreshold = 10000
	DefaultMinReasonLength  = 5
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Limits bound a single export. Zero values fall back to the defaults.
type Limits struct {
	MaxDays          int
	MaxEntries       int
	WarningThreshold int
	MinReasonLength  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxDays <= 0 {
		l.MaxDays = DefaultMaxDays
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = DefaultMaxEntries
	}
	if l.WarningThreshold <= 0 {
		l.WarningThreshold = DefaultWarningThreshold
	}
	if l.MinReasonLength <= 0 {
		l.MinReasonLength = DefaultMinReasonLength
	}
	return l
}

// Request is what the caller asks for. Dates are YYYY-MM-DD.
type Request struct {
	Format    string
	StartDate string
	EndDate   string
	Reason    string
	Confirmed bool
}

// Window is the validated, expanded date range.
type Window struct {
	Start time.Time
	End   time.Time
	Days  int
}

// ValidationError collects every problem with a request so the caller can
// fix them in one round trip.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "export validation failed: " + strings.Join(e.Problems, "; ")
}

// ConfirmationRequired signals the two-phase flow: the request is valid but
// large enough that the caller must repeat it with Confirmed set.
type ConfirmationRequired struct {
	EntryCount int
	Threshold  int
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("export of %d entries requires confirmation (threshold %d)", e.EntryCount, e.Threshold)
}

// TooLarge rejects exports over the hard cap regardless of confirmation.
type TooLarge struct {
	EntryCount int
	MaxEntries int
}

func (e *TooLarge) Error() string {
	return fmt.Sprintf("export would contain %d entries, maximum is %d", e.EntryCount, e.MaxEntries)
}

// Guard validates export requests.
type Guard struct {
	limits Limits
}

// New builds a Guard with the given limits.
func New(limits Limits) *Guard {
	return &Guard{limits: limits.withDefaults()}
}

// Limits returns the effective limits.
func (g *Guard) Limits() Limits {
	return g.limits
}

// Validate checks everything knowable before touching the audit trail:
// format, reason, and date range.
func (g *Guard) Validate(req Request) (*Window, error) {
	var problems []string

	if req.Format != FormatJSON && req.Format != FormatCSV {
		problems = append(problems, fmt.Sprintf("invalid format %q, must be %q or %q", req.Format, FormatJSON, FormatCSV))
	}
	if len(strings.TrimSpace(req.Reason)) < g.limits.MinReasonLength {
		problems = append(problems, fmt.Sprintf("export reason required (minimum %d characters)", g.limits.MinReasonLength))
	}

	start, end, err := query.DayRange(req.StartDate, req.EndDate)
	if err != nil {
		problems = append(problems, err.Error())
		return nil, &ValidationError{Problems: problems}
	}

	days := int(end.Sub(start).Hours() / 24)
	if end.Before(start) {
		problems = append(problems, "start date must be before end date")
	}
	if days > g.limits.MaxDays {
		problems = append(problems, fmt.Sprintf("date range of %d days exceeds maximum of %d", days, g.limits.MaxDays))
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &Window{Start: start, End: end, Days: days}, nil
}

// CheckVolume applies the volume limits once the matching entry count is
// known. Over the hard cap the export is refused outright; over the warning
// threshold it needs the confirmed flag.
func (g *Guard) CheckVolume(entryCount int, confirmed bool) error {
	if entryCount > g.limits.MaxEntries {
		return &TooLarge{EntryCount: entryCount, MaxEntries: g.limits.MaxEntries}
	}
	if entryCount >= g.limits.WarningThreshold && !confirmed {
		return &ConfirmationRequired{EntryCount: entryCount, Threshold: g.limits.WarningThreshold}
	}
	return nil
}
