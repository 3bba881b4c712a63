package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLLogger stores events in the app_audit_log table created by the storage
// migrations.
type SQLLogger struct {
	db *sqlx.DB
}

// NewSQLLogger creates a logger over db.
func NewSQLLogger(db *sqlx.DB) *SQLLogger {
	return &SQLLogger{db: db}
}

type eventRow struct {
	ID           int64          `db:"id"`
	OccurredAt   time.Time      `db:"occurred_at"`
	Action       string         `db:"action"`
	Status       string         `db:"status"`
	TenantID     int64          `db:"tenant_id"`
	AppID        sql.NullInt64  `db:"app_id"`
	AppName      sql.NullString `db:"app_name"`
	PreviousName sql.NullString `db:"previous_name"`
	Actor        sql.NullString `db:"actor"`
	OperationID  sql.NullString `db:"operation_id"`
	Message      sql.NullString `db:"message"`
	ErrorMessage sql.NullString `db:"error_message"`
	Metadata     sql.NullString `db:"metadata"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Log implements Logger.
func (l *SQLLogger) Log(ctx context.Context, event *Event) error {
	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := l.db.Rebind(`INSERT INTO app_audit_log (
		occurred_at, action, status, tenant_id, app_id, app_name, previous_name,
		actor, operation_id, message, error_message, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp.UTC(),
		string(event.Action),
		string(event.Status),
		event.TenantID,
		sql.NullInt64{Int64: event.AppID, Valid: event.AppID > 0},
		nullString(event.AppName),
		nullString(event.PreviousName),
		nullString(event.Actor),
		nullString(event.OperationID),
		nullString(event.Message),
		nullString(event.ErrorMessage),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns matching events, newest first.
func (l *SQLLogger) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != nil {
		where = append(where, "tenant_id = ?")
		args = append(args, *filter.TenantID)
	}
	if filter.AppName != "" {
		where = append(where, "LOWER(app_name) = LOWER(?)")
		args = append(args, filter.AppName)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, filter.Until.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := `SELECT id, occurred_at, action, status, tenant_id, app_id, app_name, previous_name,
		actor, operation_id, message, error_message, metadata
		FROM app_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, l.db, &rows, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}

	events := make([]*Event, 0, len(rows))
	for _, r := range rows {
		e := &Event{
			ID:           r.ID,
			Timestamp:    r.OccurredAt.UTC(),
			Action:       Action(r.Action),
			Status:       Status(r.Status),
			TenantID:     r.TenantID,
			AppID:        r.AppID.Int64,
			AppName:      r.AppName.String,
			PreviousName: r.PreviousName.String,
			Actor:        r.Actor.String,
			OperationID:  r.OperationID.String,
			Message:      r.Message.String,
			ErrorMessage: r.ErrorMessage.String,
		}
		if r.Metadata.Valid && r.Metadata.String != "" {
			if err := json.Unmarshal([]byte(r.Metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of audit event %d: %w", r.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// Close implements Logger. The database is owned by the caller.
func (l *SQLLogger) Close() error {
	return nil
}
