package models

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// LocationMetadata carries device context reported alongside a fix.
type LocationMetadata struct {
	BatteryPct  *float64 `json:"batteryPct,omitempty"`
	NetworkType string   `json:"networkType,omitempty"`
	Activity    string   `json:"activity,omitempty"`
}

// LocationReport is one observed position from a device
type LocationReport struct {
	PrincipalID     string            `json:"principalId"`
	DeviceID        string            `json:"deviceId"`
	SessionID       string            `json:"sessionId,omitempty"`
	Coordinate      *Coordinate       `json:"coordinate" validate:"required"`
	AccuracyMeters  *float64          `json:"accuracy,omitempty" validate:"omitnil,gt=0"`
	Speed           *float64          `json:"speed,omitempty"`
	Heading         *float64          `json:"heading,omitempty"`
	Altitude        *float64          `json:"altitude,omitempty"`
	TimestampMillis int64             `json:"timestamp"`
	Metadata        *LocationMetadata `json:"metadata,omitempty"`
}

// LocationBatch is the payload of a location.batch message.
type LocationBatch struct {
	Reports []LocationReport `json:"reports"`
}

// StoredLocation is a location row read back from the relational sink.
type StoredLocation struct {
	ID int64 `json:"id"`
	LocationReport
	ReceivedAt int64 `json:"receivedAt"`
}

// Float returns a pointer to v. Handy for optional report fields.
func Float(v float64) *float64 {
	return &v
}
