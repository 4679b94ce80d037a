package service

import (
	"errors"
	"testing"

	"github.com/jengzang/records-live-go/internal/models"
)

func TestLocationValidator(t *testing.T) {
	v := NewLocationValidator()

	tests := []struct {
		name   string
		mutate func(r *models.LocationReport)
		want   bool
	}{
		{"plain fix", func(r *models.LocationReport) {}, true},
		{"nil accuracy", func(r *models.LocationReport) { r.AccuracyMeters = nil }, true},
		{"positive accuracy", func(r *models.LocationReport) { r.AccuracyMeters = models.Float(4.5) }, true},
		{"zero accuracy", func(r *models.LocationReport) { r.AccuracyMeters = models.Float(0) }, false},
		{"negative accuracy", func(r *models.LocationReport) { r.AccuracyMeters = models.Float(-1) }, false},
		{"north pole", func(r *models.LocationReport) { r.Coordinate.Lat = 90 }, true},
		{"antimeridian", func(r *models.LocationReport) { r.Coordinate.Lng = -180 }, true},
		{"latitude too high", func(r *models.LocationReport) { r.Coordinate.Lat = 90.0001 }, false},
		{"latitude too low", func(r *models.LocationReport) { r.Coordinate.Lat = -91 }, false},
		{"longitude too high", func(r *models.LocationReport) { r.Coordinate.Lng = 180.5 }, false},
		{"longitude too low", func(r *models.LocationReport) { r.Coordinate.Lng = -200 }, false},
		{"null island", func(r *models.LocationReport) { r.Coordinate = &models.Coordinate{} }, true},
		{"missing coordinate", func(r *models.LocationReport) { r.Coordinate = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := report("alice", 51.5, -0.12)
			tt.mutate(&r)
			if got := v.Validate(r); got != tt.want {
				t.Fatalf("Validate() = %v, want %v", got, tt.want)
			}
			err := v.Check(r)
			if tt.want && err != nil {
				t.Fatalf("Check() unexpected error: %v", err)
			}
			if !tt.want && !errors.Is(err, models.ErrInvalidLocation) {
				t.Fatalf("Check() error = %v, want ErrInvalidLocation", err)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	v := NewValidate()

	err := ValidateRequest(v, models.SessionRequest{})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("empty session id: got %v, want ErrInvalidInput", err)
	}
	if err := ValidateRequest(v, models.SessionRequest{SessionID: "s1"}); err != nil {
		t.Fatalf("valid request: %v", err)
	}

	share := models.ShareRouteRequest{
		SharedWith: []string{"bob"},
		Waypoints:  []models.Coordinate{{Lat: 95, Lng: 0}},
		Name:       "trail",
	}
	if err := ValidateRequest(v, share); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("out of range waypoint: got %v, want ErrInvalidInput", err)
	}
}
