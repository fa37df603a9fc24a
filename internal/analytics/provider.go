// Package analytics produces the aggregate payloads served by the guarded
// endpoints. Providers return aggregates only; the enforcement pipeline
// downstream assumes no individual records enter a payload here, and blocks
// the response if one does.
package analytics

import (
	"context"
	"errors"
)

// Provider is the data access behind the analytics endpoints.
type Provider interface {
	// Overview summarizes activity across all courses.
	Overview(ctx context.Context) (map[string]any, error)
	// CourseDetail aggregates one course's outcomes.
	CourseDetail(ctx context.Context, courseID string) (map[string]any, error)
	// Timeseries buckets engagement by week over the window label.
	Timeseries(ctx context.Context, window string) (map[string]any, error)
}

// ErrNotFound is returned by providers when the requested course does not
// exist.
type notFoundError struct{ courseID string }

func (e *notFoundError) Error() string {
	return "course not found: " + e.courseID
}

// NotFound builds the provider-level not-found error.
func NotFound(courseID string) error {
	return &notFoundError{courseID: courseID}
}

// IsNotFound reports whether err marks a missing course.
func IsNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}
