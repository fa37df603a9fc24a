package analytics

import "context"

// StaticProvider serves fixture aggregates. Used in development and as the
// fallback when no database is configured; the numbers are shaped like real
// payloads so every guard still has something to enforce against.
type StaticProvider struct{}

// NewStaticProvider builds the fixture provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Overview(_ context.Context) (map[string]any, error) {
	return map[string]any{
		"total_courses": 3,
		"courses": []any{
			map[string]any{
				"course_id":         "algebra-1",
				"course_name":       "Algebra I",
				"total_students":    42,
				"avg_mastery_score": 0.78,
				"completion_rate":   0.64,
			},
			map[string]any{
				"course_id":         "biology-1",
				"course_name":       "Biology",
				"total_students":    35,
				"avg_mastery_score": 0.81,
				"completion_rate":   0.71,
			},
			map[string]any{
				"course_id":         "latin-ap",
				"course_name":       "AP Latin",
				"total_students":    3,
				"avg_mastery_score": 0.92,
				"completion_rate":   1.0,
			},
		},
	}, nil
}

func (p *StaticProvider) CourseDetail(_ context.Context, courseID string) (map[string]any, error) {
	courses := map[string]map[string]any{
		"algebra-1": {
			"course_id":                "algebra-1",
			"course_name":              "Algebra I",
			"total_enrolled":           42,
			"avg_mastery_score":        0.78,
			"completion_rate":          0.64,
			"avg_study_time_hours":     11.5,
			"avg_lessons_per_student":  18.2,
			"avg_quiz_attempts":        2.4,
		},
		"biology-1": {
			"course_id":                "biology-1",
			"course_name":              "Biology",
			"total_enrolled":           35,
			"avg_mastery_score":        0.81,
			"completion_rate":          0.71,
			"avg_study_time_hours":     9.3,
			"avg_lessons_per_student":  15.7,
			"avg_quiz_attempts":        1.9,
		},
		"latin-ap": {
			"course_id":                "latin-ap",
			"course_name":              "AP Latin",
			"total_enrolled":           3,
			"avg_mastery_score":        0.92,
			"completion_rate":          1.0,
			"avg_study_time_hours":     14.8,
			"avg_lessons_per_student":  22.0,
			"avg_quiz_attempts":        1.2,
		},
	}
	course, ok := courses[courseID]
	if !ok {
		return nil, NotFound(courseID)
	}
	out := make(map[string]any, len(course))
	for k, v := range course {
		out[k] = v
	}
	return out, nil
}

func (p *StaticProvider) Timeseries(_ context.Context, window string) (map[string]any, error) {
	return map[string]any{
		"window": window,
		"weeks": []any{
			map[string]any{
				"week":         "2026-W32",
				"unique_users": 61,
				"avg_mastery":  0.74,
			},
			map[string]any{
				"week":         "2026-W33",
				"unique_users": 58,
				"avg_mastery":  0.77,
			},
			map[string]any{
				"week":         "2026-W34",
				"unique_users": 4,
				"avg_mastery":  0.88,
			},
		},
	}, nil
}
