package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/database"
	"github.com/jengzang/records-live-go/internal/models"
)

// LocationRepository handles database operations for location reports
type LocationRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewLocationRepository creates a new location repository. The clock
// stamps received_at on inserted rows.
func NewLocationRepository(db *sql.DB, clk clock.Clock) *LocationRepository {
	if clk == nil {
		clk = clock.Real()
	}
	return &LocationRepository{db: db, clock: clk}
}

// InsertLocations stores a batch of reports in a single transaction.
// Either every row commits or none does.
func (r *LocationRepository) InsertLocations(ctx context.Context, reports []models.LocationReport) error {
	if len(reports) == 0 {
		return nil
	}
	receivedAt := r.clock.Now().UnixMilli()

	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO location_reports (
			principal_id, device_id, session_id, latitude, longitude, accuracy,
			speed, heading, altitude, timestamp_ms, metadata_json, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, report := range reports {
			metadata, err := encodeMetadata(report.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of report %d: %w", i, err)
			}
			_, err = stmt.ExecContext(ctx,
				report.PrincipalID,
				report.DeviceID,
				nullString(report.SessionID),
				report.Coordinate.Lat,
				report.Coordinate.Lng,
				nullFloat(report.AccuracyMeters),
				nullFloat(report.Speed),
				nullFloat(report.Heading),
				nullFloat(report.Altitude),
				report.TimestampMillis,
				metadata,
				receivedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert location %d for %s: %w", i, report.PrincipalID, err)
			}
		}
		return nil
	})
}

// RecentLocations returns the newest stored reports of a principal. A
// non-empty sessionID narrows the result to that session.
func (r *LocationRepository) RecentLocations(ctx context.Context, principalID, sessionID string, limit int) ([]models.StoredLocation, error) {
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, principal_id, device_id, session_id, latitude, longitude, accuracy,
		speed, heading, altitude, timestamp_ms, metadata_json, received_at
		FROM location_reports
		WHERE principal_id = ? AND (? = '' OR session_id = ?)
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, principalID, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []models.StoredLocation
	for rows.Next() {
		var (
			loc                                models.StoredLocation
			coord                              models.Coordinate
			sessionID, metadata                sql.NullString
			accuracy, speed, heading, altitude sql.NullFloat64
		)
		err := rows.Scan(
			&loc.ID, &loc.PrincipalID, &loc.DeviceID, &sessionID,
			&coord.Lat, &coord.Lng, &accuracy,
			&speed, &heading, &altitude, &loc.TimestampMillis, &metadata, &loc.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		loc.Coordinate = &coord
		loc.SessionID = sessionID.String
		loc.AccuracyMeters = floatPtr(accuracy)
		loc.Speed = floatPtr(speed)
		loc.Heading = floatPtr(heading)
		loc.Altitude = floatPtr(altitude)
		if metadata.Valid {
			var md models.LocationMetadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of location %d: %w", loc.ID, err)
			}
			loc.Metadata = &md
		}
		locations = append(locations, loc)
	}

	return locations, rows.Err()
}

// CountLocations returns how many rows are stored for a principal
func (r *LocationRepository) CountLocations(ctx context.Context, principalID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM location_reports WHERE principal_id = ?", principalID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return total, nil
}

func encodeMetadata(md *models.LocationMetadata) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
