package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createSecurityEvents = `
CREATE TABLE IF NOT EXISTS security_events (
	event_id       TEXT PRIMARY KEY,
	occurred_at    TIMESTAMPTZ NOT NULL,
	turn_id        TEXT NOT NULL,
	session_id     TEXT,
	tenant_id      TEXT,
	channel        TEXT,
	language       TEXT,
	action         TEXT NOT NULL,
	reason         TEXT,
	sub_reason     TEXT,
	stages         TEXT[],
	violations     JSONB,
	session_locked BOOLEAN NOT NULL DEFAULT FALSE,
	lock_reason    TEXT,
	error          TEXT
);
CREATE INDEX IF NOT EXISTS security_events_tenant_idx ON security_events (tenant_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS security_events_session_idx ON security_events (session_id);`

const insertSecurityEvent = `
INSERT INTO security_events (
	event_id, occurred_at, turn_id, session_id, tenant_id, channel, language,
	action, reason, sub_reason, stages, violations, session_locked, lock_reason, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (event_id) DO NOTHING`

// PostgresSink stores security events in a security_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the table if needed.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the security_events table and its indexes.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSecurityEvents); err != nil {
		return fmt.Errorf("create security_events: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, event SecurityEvent) error {
	event = scrub(event)
	violations, err := json.Marshal(event.Violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		at = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, insertSecurityEvent,
		event.EventID, at, event.TurnID, event.SessionID, event.TenantID,
		event.Channel, event.Language, event.Action, event.Reason, event.SubReason,
		event.Stages, violations, event.SessionLocked, event.LockReason, event.Error,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// CountByReason returns the number of events per reason for a tenant since
// a point in time.
func (s *PostgresSink) CountByReason(ctx context.Context, tenantID string, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(reason, ''), COUNT(*) FROM security_events
		 WHERE tenant_id = $1 AND occurred_at >= $2 GROUP BY reason`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan security events: %w", err)
		}
		out[reason] = n
	}
	return out, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
