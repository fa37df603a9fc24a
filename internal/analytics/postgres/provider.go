// Package postgres implements the analytics provider over the reporting
// database. Every query is a GROUP BY aggregate; no statement here selects
// individual student rows, which keeps the provider aligned with what the
// downstream guards will accept.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edushield/internal/analytics"
)

// Provider reads aggregates from postgres.
type Provider struct {
	db *sql.DB
}

// Open connects via the pgx stdlib driver.
func Open(ctx context.Context, url string) (*Provider, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Provider{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// Close releases the connection pool.
func (p *Provider) Close() error {
	return p.db.Close()
}

func (p *Provider) Overview(ctx context.Context) (map[string]any, error) {
	const query = `
		SELECT c.id,
		       c.name,
		       COUNT(DISTINCT e.student_id)        AS total_students,
		       COALESCE(AVG(e.mastery_score), 0)   AS avg_mastery_score,
		       COALESCE(AVG(CASE WHEN e.completed_at IS NOT NULL THEN 1.0 ELSE 0.0 END), 0) AS completion_rate
		FROM courses c
		LEFT JOIN enrollments e ON e.course_id = c.id
		GROUP BY c.id, c.name
		ORDER BY c.name
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query course overview: %w", err)
	}
	defer rows.Close()

	courses := []any{}
	for rows.Next() {
		var id, name string
		var students int
		var mastery, completion float64
		if err := rows.Scan(&id, &name, &students, &mastery, &completion); err != nil {
			return nil, fmt.Errorf("scan course overview: %w", err)
		}
		courses = append(courses, map[string]any{
			"course_id":         id,
			"course_name":       name,
			"total_students":    students,
			"avg_mastery_score": mastery,
			"completion_rate":   completion,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course overview: %w", err)
	}

	return map[string]any{
		"total_courses": len(courses),
		"courses":       courses,
	}, nil
}

func (p *Provider) CourseDetail(ctx context.Context, courseID string) (map[string]any, error) {
	const query = `
		SELECT c.id,
		       c.name,
		       COUNT(DISTINCT e.student_id)        AS total_enrolled,
		       COALESCE(AVG(e.mastery_score), 0)   AS avg_mastery_score,
		       COALESCE(AVG(CASE WHEN e.completed_at IS NOT NULL THEN 1.0 ELSE 0.0 END), 0) AS completion_rate,
		       COALESCE(AVG(e.study_time_hours), 0) AS avg_study_time_hours,
		       COALESCE(AVG(e.lessons_completed), 0) AS avg_lessons_per_student,
		       COALESCE(AVG(e.quiz_attempts), 0)   AS avg_quiz_attempts
		FROM courses c
		LEFT JOIN enrollments e ON e.course_id = c.id
		WHERE c.id = $1
		GROUP BY c.id, c.name
	`
	var (
		id, name                          string
		enrolled                          int
		mastery, completion               float64
		studyHours, lessons, quizAttempts float64
	)
	err := p.db.QueryRowContext(ctx, query, courseID).Scan(
		&id, &name, &enrolled, &mastery, &completion, &studyHours, &lessons, &quizAttempts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analytics.NotFound(courseID)
	}
	if err != nil {
		return nil, fmt.Errorf("query course detail: %w", err)
	}

	return map[string]any{
		"course_id":               id,
		"course_name":             name,
		"total_enrolled":          enrolled,
		"avg_mastery_score":       mastery,
		"completion_rate":         completion,
		"avg_study_time_hours":    studyHours,
		"avg_lessons_per_student": lessons,
		"avg_quiz_attempts":       quizAttempts,
	}, nil
}

func (p *Provider) Timeseries(ctx context.Context, window string) (map[string]any, error) {
	interval, err := windowInterval(window)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT to_char(date_trunc('week', s.started_at), 'IYYY-"W"IW') AS week,
		       COUNT(DISTINCT s.student_id)                            AS unique_users,
		       COALESCE(AVG(s.mastery_score), 0)                       AS avg_mastery
		FROM study_sessions s
		WHERE s.started_at >= now() - $1::interval
		GROUP BY 1
		ORDER BY 1
	`
	rows, err := p.db.QueryContext(ctx, query, interval)
	if err != nil {
		return nil, fmt.Errorf("query timeseries: %w", err)
	}
	defer rows.Close()

	weeks := []any{}
	for rows.Next() {
		var week string
		var users int
		var mastery float64
		if err := rows.Scan(&week, &users, &mastery); err != nil {
			return nil, fmt.Errorf("scan timeseries: %w", err)
		}
		weeks = append(weeks, map[string]any{
			"week":         week,
			"unique_users": users,
			"avg_mastery":  mastery,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeseries: %w", err)
	}

	return map[string]any{
		"window": window,
		"weeks":  weeks,
	}, nil
}

func windowInterval(window string) (string, error) {
	switch window {
	case "1d":
		return "1 day", nil
	case "7d", "":
		return "7 days", nil
	case "30d":
		return "30 days", nil
	case "90d":
		return "90 days", nil
	}
	return "", fmt.Errorf("unknown timeseries window %q", window)
}
