package models

// LocationFilter represents query parameters for stored locations
type LocationFilter struct {
	SessionID string `form:"sessionId"`
	Limit     int    `form:"limit"`
}

// LocationsResponse is a page of stored locations, newest first
type LocationsResponse struct {
	Data  []StoredLocation `json:"data"`
	Total int64            `json:"total"`
	Limit int              `json:"limit"`
}
