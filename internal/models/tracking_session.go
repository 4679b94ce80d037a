package models

import "time"

// SessionStatus is the lifecycle state of a tracking session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
)

// Default tracking settings applied when a start request omits them.
const (
	DefaultTrackingIntervalMs = 5000
)

// TrackingSettings configures how a device records positions.
type TrackingSettings struct {
	IntervalMs         int  `json:"intervalMs" validate:"gte=0"`
	HighAccuracy       bool `json:"highAccuracy"`
	BackgroundTracking bool `json:"backgroundTracking"`
}

// TrackingSession is a bounded recording session for one (principal, device) pair.
type TrackingSession struct {
	ID          string           `json:"id"`
	PrincipalID string           `json:"principalId"`
	DeviceID    string           `json:"deviceId"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Status      SessionStatus    `json:"status"`
	Settings    TrackingSettings `json:"settings"`
}

// CanTransition reports whether the session may move to next.
// active and paused are interchangeable; stopped is terminal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionActive:
		return next == SessionPaused || next == SessionStopped
	case SessionPaused:
		return next == SessionActive || next == SessionStopped
	default:
		return false
	}
}

// Session lifecycle events written to the relational sink
const (
	SessionEventCreated = "created"
	SessionEventEnded   = "ended"
)

// SessionLifecycleRecord is one row in the session history table.
type SessionLifecycleRecord struct {
	SessionID   string           `json:"sessionId"`
	PrincipalID string           `json:"principalId"`
	DeviceID    string           `json:"deviceId"`
	Event       string           `json:"event"`
	Status      SessionStatus    `json:"status"`
	Settings    TrackingSettings `json:"settings"`
	StartTime   time.Time        `json:"startTime"`
	OccurredAt  time.Time        `json:"occurredAt"`
}
