package service

import (
	"context"
	"fmt"

	"github.com/jengzang/records-live-go/internal/models"
)

// LocationReader is the read side of the location store.
type LocationReader interface {
	RecentLocations(ctx context.Context, principalID, sessionID string, limit int) ([]models.StoredLocation, error)
	CountLocations(ctx context.Context, principalID string) (int64, error)
}

// LocationService serves persisted location history
type LocationService struct {
	reader LocationReader
}

// NewLocationService creates a new location service
func NewLocationService(reader LocationReader) *LocationService {
	return &LocationService{reader: reader}
}

// Recent returns the newest stored locations of a principal
func (s *LocationService) Recent(ctx context.Context, principalID string, filter models.LocationFilter) (*models.LocationsResponse, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	locations, err := s.reader.RecentLocations(ctx, principalID, filter.SessionID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get locations: %w", models.ErrStorage, err)
	}
	total, err := s.reader.CountLocations(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count locations: %w", models.ErrStorage, err)
	}

	if locations == nil {
		locations = []models.StoredLocation{}
	}

	return &models.LocationsResponse{
		Data:  locations,
		Total: total,
		Limit: filter.Limit,
	}, nil
}
