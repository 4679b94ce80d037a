package models

// Inbound message types.
const (
	MsgLocationUpdate = "location.update"
	MsgLocationBatch  = "location.batch"
	MsgTrackingStart  = "tracking.start"
	MsgTrackingStop   = "tracking.stop"
	MsgTrackingPause  = "tracking.pause"
	MsgTrackingResume = "tracking.resume"
	MsgRoomJoin       = "room.join"
	MsgRoomLeave      = "room.leave"
	MsgRouteShare     = "route.share"
	MsgRouteUnshare   = "route.unshare"
	MsgGeofenceCreate = "geofence.create"
	MsgGeofenceDelete = "geofence.delete"
)

// Outbound event types.
const (
	EvtLocationUpdate  = "location.update"
	EvtTrackingStarted = "tracking.started"
	EvtTrackingPaused  = "tracking.paused"
	EvtTrackingResumed = "tracking.resumed"
	EvtTrackingStopped = "tracking.stopped"
	EvtGeofenceEvent   = "geofence.event"
	EvtGeofenceAlert   = "alert.geofence"
	EvtRouteShared     = "route.shared"
	EvtRouteUnshared   = "route.unshared"
	EvtRoomUserJoined  = "room.user.joined"
	EvtRoomUserLeft    = "room.user.left"
	EvtAck             = "ack"
	EvtError           = "error"
)

// Error codes carried by error events.
const (
	CodeInvalidLocation = "INVALID_LOCATION"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidState    = "INVALID_STATE"
	CodeNotFound        = "NOT_FOUND"
	CodeAccessDenied    = "ACCESS_DENIED"
	CodeStorage         = "STORAGE_ERROR"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// Event is an outbound message delivered to a connection.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
}

// AckPayload is the data of an ack event.
type AckPayload struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// SessionEventPayload is the data of tracking.* events.
type SessionEventPayload struct {
	SessionID string          `json:"sessionId"`
	Session   TrackingSession `json:"session"`
}

// RoomPresencePayload is the data of room.user.* events.
type RoomPresencePayload struct {
	PrincipalID string `json:"principalId"`
	RoomID      string `json:"roomId"`
}
