package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/records-live-go/internal/database"
	"github.com/jengzang/records-live-go/internal/models"
)

// RoomRepository reads externally provisioned broadcast rooms
type RoomRepository struct {
	db *sql.DB
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// GetRoom returns the room with its members, or nil if it does not exist
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := r.db.QueryRowContext(ctx, "SELECT id, owner_id, name FROM rooms WHERE id = ?", id).
		Scan(&room.ID, &room.OwnerID, &room.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT principal_id FROM room_members WHERE room_id = ? ORDER BY principal_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("failed to scan room member: %w", err)
		}
		room.Members = append(room.Members, member)
	}

	return room, rows.Err()
}

// SaveRoom creates or replaces a room and its member list. Rooms are
// provisioned outside the realtime core; this exists for admin tooling and tests.
func (r *RoomRepository) SaveRoom(ctx context.Context, room models.Room) error {
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO rooms (id, owner_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name`,
			room.ID, room.OwnerID, room.Name)
		if err != nil {
			return fmt.Errorf("failed to save room: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM room_members WHERE room_id = ?", room.ID); err != nil {
			return fmt.Errorf("failed to clear room members: %w", err)
		}
		for _, member := range room.Members {
			if _, err := tx.ExecContext(ctx, "INSERT INTO room_members (room_id, principal_id) VALUES (?, ?)", room.ID, member); err != nil {
				return fmt.Errorf("failed to add room member %s: %w", member, err)
			}
		}
		return nil
	})
}
