package service

import "github.com/google/uuid"

// IDGenerator produces identifiers for sessions, geofences and routes.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDv4 strings.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}
