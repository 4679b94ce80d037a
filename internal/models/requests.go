package models

// StartTrackingRequest is the payload of tracking.start.
type StartTrackingRequest struct {
	DeviceID           string `json:"deviceId" validate:"required,max=128"`
	IntervalMs         *int   `json:"intervalMs,omitempty" validate:"omitnil,gt=0"`
	HighAccuracy       *bool  `json:"highAccuracy,omitempty"`
	BackgroundTracking *bool  `json:"backgroundTracking,omitempty"`
}

// Settings resolves the request against the tracking defaults.
func (r StartTrackingRequest) Settings() TrackingSettings {
	s := TrackingSettings{IntervalMs: DefaultTrackingIntervalMs}
	if r.IntervalMs != nil {
		s.IntervalMs = *r.IntervalMs
	}
	if r.HighAccuracy != nil {
		s.HighAccuracy = *r.HighAccuracy
	}
	if r.BackgroundTracking != nil {
		s.BackgroundTracking = *r.BackgroundTracking
	}
	return s
}

// SessionRequest is the payload of tracking.stop, tracking.pause and tracking.resume.
type SessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// RoomRequest is the payload of room.join and room.leave.
type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required,max=256"`
}

// ShareRouteRequest is the payload of route.share.
type ShareRouteRequest struct {
	SharedWith        []string     `json:"sharedWith" validate:"required,min=1,dive,required"`
	Waypoints         []Coordinate `json:"waypoints" validate:"required,min=1,dive"`
	Name              string       `json:"name" validate:"required,max=200"`
	Description       string       `json:"description,omitempty" validate:"max=2000"`
	EstimatedDuration int64        `json:"estimatedDuration,omitempty" validate:"gte=0"`
	EstimatedDistance *float64     `json:"estimatedDistance,omitempty" validate:"omitnil,gte=0"`
}

// RouteRequest is the payload of route.unshare.
type RouteRequest struct {
	RouteID string `json:"routeId" validate:"required"`
}

// CreateGeofenceRequest is the payload of geofence.create.
type CreateGeofenceRequest struct {
	Name         string            `json:"name" validate:"required,max=200"`
	Center       Coordinate        `json:"center"`
	RadiusMeters float64           `json:"radiusMeters" validate:"gt=0"`
	Triggers     []GeofenceTrigger `json:"triggers" validate:"dive,oneof=enter exit dwell"`
	Active       *bool             `json:"active,omitempty"`
}

// GeofenceRequest is the payload of geofence.delete.
type GeofenceRequest struct {
	GeofenceID string `json:"geofenceId" validate:"required"`
}
