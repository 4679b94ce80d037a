package models

import "time"

// GeofenceTrigger names a transition a geofence reacts to.
type GeofenceTrigger string

const (
	TriggerEnter GeofenceTrigger = "enter"
	TriggerExit  GeofenceTrigger = "exit"
	// TriggerDwell is accepted as configuration but never evaluated.
	TriggerDwell GeofenceTrigger = "dwell"
)

// Geofence is a named circular region owned by a principal.
type Geofence struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId" validate:"required"`
	Name         string            `json:"name" validate:"required,max=200"`
	Center       Coordinate        `json:"center"`
	RadiusMeters float64           `json:"radiusMeters" validate:"gt=0"`
	Triggers     []GeofenceTrigger `json:"triggers" validate:"dive,oneof=enter exit dwell"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// HasTrigger reports whether t is among the geofence triggers.
func (g Geofence) HasTrigger(t GeofenceTrigger) bool {
	for _, trigger := range g.Triggers {
		if trigger == t {
			return true
		}
	}
	return false
}

// GeofenceEventKind is the direction of a boundary crossing.
type GeofenceEventKind string

const (
	GeofenceEnter GeofenceEventKind = "enter"
	GeofenceExit  GeofenceEventKind = "exit"
)

// GeofenceEvent is emitted once per boundary crossing.
type GeofenceEvent struct {
	PrincipalID  string            `json:"principalId"`
	DeviceID     string            `json:"deviceId"`
	GeofenceID   string            `json:"geofenceId"`
	GeofenceName string            `json:"geofenceName,omitempty"`
	Kind         GeofenceEventKind `json:"kind"`
	Coordinate   Coordinate        `json:"coordinate"`
	Timestamp    int64             `json:"timestamp"`
}

// MembershipState is whether a principal is inside a geofence. Outside
// is stored as the absence of a flag, Inside as its presence.
type MembershipState int

const (
	Outside MembershipState = iota
	Inside
)

func (m MembershipState) String() string {
	if m == Inside {
		return "inside"
	}
	return "outside"
}

// Next applies one evaluation to the membership state machine. It returns
// the new state and, when a crossing must be reported, its kind. The state
// only changes when the geofence carries the trigger for that crossing.
func (m MembershipState) Next(isInside bool, g Geofence) (MembershipState, GeofenceEventKind, bool) {
	switch {
	case m == Outside && isInside && g.HasTrigger(TriggerEnter):
		return Inside, GeofenceEnter, true
	case m == Inside && !isInside && g.HasTrigger(TriggerExit):
		return Outside, GeofenceExit, true
	default:
		return m, "", false
	}
}
