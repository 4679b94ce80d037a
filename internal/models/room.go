package models

import "strings"

// Room id prefixes. Personal and alert rooms exist implicitly for every
// principal; session and route rooms are provisioned by the core.
const (
	PersonalRoomPrefix = "user:"
	AlertRoomPrefix    = "alerts:"
	SessionRoomPrefix  = "session:"
	RouteRoomPrefix    = "route:"
)

// Room is a named broadcast group.
type Room struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

// Allows reports whether principalID may join the room.
func (r Room) Allows(principalID string) bool {
	if principalID == "" {
		return false
	}
	if r.OwnerID == principalID {
		return true
	}
	for _, m := range r.Members {
		if m == principalID {
			return true
		}
	}
	return false
}

func PersonalRoom(principalID string) string { return PersonalRoomPrefix + principalID }
func AlertRoom(principalID string) string    { return AlertRoomPrefix + principalID }
func SessionRoom(sessionID string) string    { return SessionRoomPrefix + sessionID }
func RouteRoom(routeID string) string        { return RouteRoomPrefix + routeID }

// ImplicitRoomOwner returns the principal owning a personal or alert room.
func ImplicitRoomOwner(roomID string) (string, bool) {
	if p, ok := strings.CutPrefix(roomID, PersonalRoomPrefix); ok && p != "" {
		return p, true
	}
	if p, ok := strings.CutPrefix(roomID, AlertRoomPrefix); ok && p != "" {
		return p, true
	}
	return "", false
}
