package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jengzang/records-live-go/internal/models"
)

// SessionRepository stores tracking-session lifecycle rows
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// InsertSessionEvent appends one lifecycle transition
func (r *SessionRepository) InsertSessionEvent(ctx context.Context, rec models.SessionLifecycleRecord) error {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode session settings: %w", err)
	}

	query := `INSERT INTO tracking_session_events (
		session_id, principal_id, device_id, event, status, settings_json, start_time, occurred_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.PrincipalID,
		rec.DeviceID,
		rec.Event,
		string(rec.Status),
		string(settings),
		rec.StartTime.UnixMilli(),
		rec.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session event for %s: %w", rec.SessionID, err)
	}
	return nil
}

// ListSessionEvents returns the lifecycle rows of a session in order
func (r *SessionRepository) ListSessionEvents(ctx context.Context, sessionID string) ([]models.SessionLifecycleRecord, error) {
	query := `SELECT session_id, principal_id, device_id, event, status, settings_json, start_time, occurred_at
		FROM tracking_session_events
		WHERE session_id = ?
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var records []models.SessionLifecycleRecord
	for rows.Next() {
		var (
			rec                   models.SessionLifecycleRecord
			status, settings      string
			startTime, occurredAt int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.PrincipalID, &rec.DeviceID, &rec.Event, &status, &settings, &startTime, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode session settings: %w", err)
		}
		rec.Status = models.SessionStatus(status)
		rec.StartTime = time.UnixMilli(startTime).UTC()
		rec.OccurredAt = time.UnixMilli(occurredAt).UTC()
		records = append(records, rec)
	}

	return records, rows.Err()
}
