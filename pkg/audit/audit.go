// Package audit records authentication and authorization decisions in a
// relational log so operators can answer "who was denied what, when".
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Decision kinds.
const (
	KindCredential = "credential"
	KindToken      = "token"
	KindPolicy     = "policy"
)

// Decision results.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// Event is one recorded decision.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	Result    string
	DevID     int64
	UserID    int64
	Action    string
	Code      int
	RequestID string
	Path      string
}

// Logger writes decision events to an embedded sqlite database kept
// next to the process, separate from the primary store.
type Logger struct {
	db *sql.DB
}

// NewLogger creates the audit logger and ensures its table exists.
func NewLogger(db *sql.DB) (*Logger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	l := &Logger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth_audit table: %w", err)
	}
	return l, nil
}

func (l *Logger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS auth_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		kind VARCHAR(20) NOT NULL,
		result VARCHAR(10) NOT NULL,
		dev_id BIGINT,
		user_id BIGINT,
		action VARCHAR(50),
		code INTEGER,
		request_id VARCHAR(100),
		path TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_timestamp ON auth_audit(timestamp);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_dev ON auth_audit(dev_id);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_user ON auth_audit(user_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Log records one decision.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO auth_audit (timestamp, kind, result, dev_id, user_id, action, code, request_id, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, event.Timestamp, event.Kind, event.Result, event.DevID, event.UserID,
		event.Action, event.Code, event.RequestID, event.Path).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// Filter narrows a search. Zero values match everything.
type Filter struct {
	Kind   string
	Result string
	DevID  int64
	UserID int64
	Since  time.Time
	Limit  int
}

// Search returns events matching the filter, newest first.
func (l *Logger) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	query := `SELECT id, timestamp, kind, result, dev_id, user_id, action, code, request_id, path
		FROM auth_audit WHERE 1=1`
	args := make([]interface{}, 0, 6)

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.Result != "" {
		query += ` AND result = ?`
		args = append(args, filter.Result)
	}
	if filter.DevID != 0 {
		query += ` AND dev_id = ?`
		args = append(args, filter.DevID)
	}
	if filter.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Kind, &event.Result,
			&event.DevID, &event.UserID, &event.Action, &event.Code,
			&event.RequestID, &event.Path); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Cleanup removes events older than the retention cutoff.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := l.db.ExecContext(ctx, `DELETE FROM auth_audit WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}
	return result.RowsAffected()
}
