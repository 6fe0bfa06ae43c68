package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Audit event kinds
const (
	AuditKindSearch     = "search"
	AuditKindConnection = "connection"
	AuditKindExport     = "export"
)

// AuditEvent records one investigator action.
type AuditEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Actor     string         `json:"actor,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Outcome   string         `json:"outcome"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists the audit trail in SQLite.
type AuditStore struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewAuditStore creates an audit store over an open database.
func NewAuditStore(db *SQLite, logger *zap.SugaredLogger) *AuditStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuditStore{db: db, logger: logger}
}

// Record appends an event. ID and CreatedAt are filled in when empty.
func (s *AuditStore) Record(ctx context.Context, e AuditEvent) error {
	if e.Kind == "" || e.Outcome == "" {
		return fmt.Errorf("%w: kind and outcome are required", ErrInvalidAuditEvent)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details sql.NullString
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, session_id, actor, subject, outcome, message, details, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.SessionID, e.Actor, e.Subject, e.Outcome, e.Message, details,
		e.Duration.Milliseconds(), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty kind selects
// every kind.
func (s *AuditStore) Recent(ctx context.Context, limit int, kind string) ([]AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, kind, session_id, actor, subject, outcome, message, details, duration_ms, created_at
		FROM audit_events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var (
			e                       AuditEvent
			actor, subject, message sql.NullString
			details                 sql.NullString
			durationMs              int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.SessionID, &actor, &subject, &e.Outcome,
			&message, &details, &durationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Actor = actor.String
		e.Subject = subject.String
		e.Message = message.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				s.logger.Warnw("Failed to decode audit details", "id", e.ID, "error", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}
