// Package postgres implements the audit store over a relational table for
// deployments that outgrow the file sink. Same append-only contract; the
// table carries no UPDATE or DELETE paths.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edushield/internal/audit"
)

// Store persists audit events in the audit_events table.
type Store struct {
	db *sql.DB
}

// Open connects to postgres via the pgx stdlib driver and ensures the
// events table exists.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool without schema management.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_events (
			id             UUID PRIMARY KEY,
			ts             BIGINT NOT NULL,
			iso_timestamp  TEXT NOT NULL,
			endpoint       TEXT NOT NULL,
			action         TEXT NOT NULL,
			principal_role TEXT NOT NULL,
			principal_id   TEXT NOT NULL DEFAULT '',
			client_ip      TEXT NOT NULL DEFAULT '',
			user_agent     TEXT NOT NULL DEFAULT '',
			http_method    TEXT NOT NULL DEFAULT '',
			success        BOOLEAN NOT NULL,
			parameters     JSONB,
			metadata       JSONB
		);
		CREATE INDEX IF NOT EXISTS audit_events_ts_idx ON audit_events (ts);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Append inserts one event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	params, err := json.Marshal(event.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO audit_events (
			id, ts, iso_timestamp, endpoint, action, principal_role,
			principal_id, client_ip, user_agent, http_method, success,
			parameters, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.ISOTimestamp,
		event.Endpoint,
		event.Action,
		event.PrincipalRole,
		event.PrincipalID,
		event.ClientIP,
		event.UserAgent,
		event.Method,
		event.Success,
		params,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Scan streams events oldest-first. Rows with undecodable JSON columns are
// skipped, matching the file store's tolerance for damaged records.
func (s *Store) Scan(ctx context.Context, fn func(audit.Event) bool) error {
	const query = `
		SELECT id, ts, iso_timestamp, endpoint, action, principal_role,
		       principal_id, client_ip, user_agent, http_method, success,
		       parameters, metadata
		FROM audit_events
		ORDER BY ts ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var event audit.Event
		var params, meta []byte
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.ISOTimestamp,
			&event.Endpoint,
			&event.Action,
			&event.PrincipalRole,
			&event.PrincipalID,
			&event.ClientIP,
			&event.UserAgent,
			&event.Method,
			&event.Success,
			&params,
			&meta,
		); err != nil {
			return fmt.Errorf("scan audit event: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &event.Parameters); err != nil {
				continue
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Metadata); err != nil {
				continue
			}
		}
		if !fn(event) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit events: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
