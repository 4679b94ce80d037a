package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/kv"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/spatial"
)

// DefaultRouteTTL is how long a shared route stays available.
const DefaultRouteTTL = time.Hour

// ErrRouteNotFound is returned for unknown or expired routes and for
// routes owned by another principal.
var ErrRouteNotFound = fmt.Errorf("route %w", models.ErrNotFound)

func routeKey(id string) string {
	return "route:" + id
}

// RouteService shares waypoint lists between principals. Routes live in
// the key-value store with an expiry.
type RouteService struct {
	store    kv.Store
	rooms    *RoomPresenceRouter
	validate *validator.Validate
	clock    clock.Clock
	ids      IDGenerator
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRouteService creates a new route service
func NewRouteService(store kv.Store, rooms *RoomPresenceRouter, clk clock.Clock, ids IDGenerator, ttl time.Duration, logger *slog.Logger) *RouteService {
	if clk == nil {
		clk = clock.Real()
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RouteService{
		store:    store,
		rooms:    rooms,
		validate: NewValidate(),
		clock:    clk,
		ids:      ids,
		ttl:      ttl,
		logger:   logger.With("component", "routes"),
	}
}

// Share stores a route owned by ownerID. When no distance estimate is
// given the great-circle length of the waypoints is used.
func (s *RouteService) Share(ctx context.Context, ownerID string, req models.ShareRouteRequest) (models.SharedRoute, error) {
	if err := ValidateRequest(s.validate, req); err != nil {
		return models.SharedRoute{}, err
	}

	now := s.clock.Now()
	route := models.SharedRoute{
		ID:                   s.ids.NewID(),
		OwnerID:              ownerID,
		Name:                 req.Name,
		Description:          req.Description,
		Waypoints:            req.Waypoints,
		SharedWith:           dedupe(req.SharedWith, ownerID),
		EstimatedDurationSec: req.EstimatedDuration,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.ttl),
	}
	if req.EstimatedDistance != nil {
		route.EstimatedDistanceMeters = *req.EstimatedDistance
	} else {
		route.EstimatedDistanceMeters = routeLength(req.Waypoints)
	}

	data, err := json.Marshal(route)
	if err != nil {
		return models.SharedRoute{}, fmt.Errorf("failed to encode route: %w", err)
	}
	if err := s.store.SetWithExpiry(ctx, routeKey(route.ID), data, s.ttl); err != nil {
		return models.SharedRoute{}, fmt.Errorf("%w: save route: %w", models.ErrStorage, err)
	}
	if s.rooms != nil {
		s.rooms.JoinSystem(ownerID, models.RouteRoom(route.ID))
	}

	s.logger.Info("route shared", "route", route.ID, "owner", ownerID, "recipients", len(route.SharedWith))
	return route, nil
}

// Get loads a route that has not expired.
func (s *RouteService) Get(ctx context.Context, id string) (models.SharedRoute, error) {
	var route models.SharedRoute
	data, err := s.store.Get(ctx, routeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return route, ErrRouteNotFound
		}
		return route, fmt.Errorf("%w: load route: %w", models.ErrStorage, err)
	}
	if err := json.Unmarshal(data, &route); err != nil {
		return route, fmt.Errorf("failed to decode route %s: %w", id, err)
	}
	return route, nil
}

// Unshare deletes a route. Only the owner may unshare.
func (s *RouteService) Unshare(ctx context.Context, ownerID, id string) (models.SharedRoute, error) {
	route, err := s.Get(ctx, id)
	if err != nil {
		return models.SharedRoute{}, err
	}
	if route.OwnerID != ownerID {
		return models.SharedRoute{}, ErrRouteNotFound
	}
	if err := s.store.Delete(ctx, routeKey(id)); err != nil {
		return models.SharedRoute{}, fmt.Errorf("%w: delete route: %w", models.ErrStorage, err)
	}
	if s.rooms != nil {
		s.rooms.Close(models.RouteRoom(id))
	}

	s.logger.Info("route unshared", "route", id, "owner", ownerID)
	return route, nil
}

// ResolveRoom exposes route rooms to the room router. The owner and the
// recipients may join while the route is live.
func (s *RouteService) ResolveRoom(ctx context.Context, roomID string) (*models.Room, error) {
	route, err := s.Get(ctx, roomID[len(models.RouteRoomPrefix):])
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.Room{ID: roomID, OwnerID: route.OwnerID, Name: route.Name, Members: route.SharedWith}, nil
}

func routeLength(waypoints []models.Coordinate) float64 {
	points := make([]spatial.Point, len(waypoints))
	for i, w := range waypoints {
		points[i] = spatial.Point{Lat: w.Lat, Lon: w.Lng}
	}
	return spatial.PathLength(points)
}

// dedupe drops duplicates and the owner from a recipient list.
func dedupe(principals []string, ownerID string) []string {
	seen := make(map[string]struct{}, len(principals))
	out := make([]string, 0, len(principals))
	for _, p := range principals {
		if p == ownerID {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
