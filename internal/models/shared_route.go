package models

import "time"

// SharedRoute is a waypoint list an owner shares with other principals.
type SharedRoute struct {
	ID                      string       `json:"id"`
	OwnerID                 string       `json:"ownerId"`
	Name                    string       `json:"name"`
	Description             string       `json:"description,omitempty"`
	Waypoints               []Coordinate `json:"waypoints"`
	SharedWith              []string     `json:"sharedWith"`
	EstimatedDurationSec    int64        `json:"estimatedDuration,omitempty"`
	EstimatedDistanceMeters float64      `json:"estimatedDistance"`
	CreatedAt               time.Time    `json:"createdAt"`
	ExpiresAt               time.Time    `json:"expiresAt"`
}
