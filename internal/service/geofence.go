package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/kv"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/spatial"
)

// ErrGeofenceNotFound is returned for unknown geofences and for geofences
// owned by another principal.
var ErrGeofenceNotFound = fmt.Errorf("geofence %w", models.ErrNotFound)

func geofenceKey(id string) string {
	return "geofence:" + id
}

func geofenceSetKey(ownerID string) string {
	return "geofences:" + ownerID
}

func membershipKey(geofenceID, principalID string) string {
	return "geofence:inside:" + geofenceID + ":" + principalID
}

// GeofenceService stores geofence definitions in the key-value store.
// Definitions have no expiry; each owner has an index set of ids.
type GeofenceService struct {
	store    kv.Store
	validate *validator.Validate
	clock    clock.Clock
	ids      IDGenerator
	logger   *slog.Logger
}

// NewGeofenceService creates a new geofence service
func NewGeofenceService(store kv.Store, clk clock.Clock, ids IDGenerator, logger *slog.Logger) *GeofenceService {
	if clk == nil {
		clk = clock.Real()
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeofenceService{
		store:    store,
		validate: NewValidate(),
		clock:    clk,
		ids:      ids,
		logger:   logger.With("component", "geofence"),
	}
}

// Create registers a geofence owned by ownerID. Omitted triggers default
// to enter and exit; omitted active defaults to true.
func (s *GeofenceService) Create(ctx context.Context, ownerID string, req models.CreateGeofenceRequest) (models.Geofence, error) {
	triggers := req.Triggers
	if triggers == nil {
		triggers = []models.GeofenceTrigger{models.TriggerEnter, models.TriggerExit}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	g := models.Geofence{
		ID:           s.ids.NewID(),
		OwnerID:      ownerID,
		Name:         req.Name,
		Center:       req.Center,
		RadiusMeters: req.RadiusMeters,
		Triggers:     triggers,
		Active:       active,
		CreatedAt:    s.clock.Now(),
	}
	if err := ValidateRequest(s.validate, g); err != nil {
		return models.Geofence{}, err
	}

	data, err := json.Marshal(g)
	if err != nil {
		return models.Geofence{}, fmt.Errorf("failed to encode geofence: %w", err)
	}
	if err := s.store.Set(ctx, geofenceKey(g.ID), data); err != nil {
		return models.Geofence{}, fmt.Errorf("%w: save geofence: %w", models.ErrStorage, err)
	}
	if err := s.store.AddToSet(ctx, geofenceSetKey(ownerID), g.ID); err != nil {
		_ = s.store.Delete(ctx, geofenceKey(g.ID))
		return models.Geofence{}, fmt.Errorf("%w: index geofence: %w", models.ErrStorage, err)
	}

	s.logger.Info("geofence created", "geofence", g.ID, "owner", ownerID, "radius", g.RadiusMeters)
	return g, nil
}

// Get loads a geofence by id regardless of owner.
func (s *GeofenceService) Get(ctx context.Context, id string) (models.Geofence, error) {
	var g models.Geofence
	data, err := s.store.Get(ctx, geofenceKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return g, ErrGeofenceNotFound
		}
		return g, fmt.Errorf("%w: load geofence: %w", models.ErrStorage, err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("failed to decode geofence %s: %w", id, err)
	}
	return g, nil
}

// List returns the geofences owned by ownerID ordered by creation time.
// Ids left dangling in the index are skipped.
func (s *GeofenceService) List(ctx context.Context, ownerID string) ([]models.Geofence, error) {
	ids, err := s.store.Members(ctx, geofenceSetKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("%w: list geofences: %w", models.ErrStorage, err)
	}
	geofences := make([]models.Geofence, 0, len(ids))
	for _, id := range ids {
		g, err := s.Get(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		geofences = append(geofences, g)
	}
	sort.SliceStable(geofences, func(i, j int) bool {
		return geofences[i].CreatedAt.Before(geofences[j].CreatedAt)
	})
	return geofences, nil
}

// Delete removes a geofence owned by ownerID along with its membership
// flag.
func (s *GeofenceService) Delete(ctx context.Context, ownerID, id string) (models.Geofence, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return models.Geofence{}, err
	}
	if g.OwnerID != ownerID {
		return models.Geofence{}, ErrGeofenceNotFound
	}

	if err := s.store.Delete(ctx, geofenceKey(id)); err != nil {
		return models.Geofence{}, fmt.Errorf("%w: delete geofence: %w", models.ErrStorage, err)
	}
	if err := s.store.RemoveFromSet(ctx, geofenceSetKey(ownerID), id); err != nil {
		s.logger.Warn("failed to unindex geofence", "geofence", id, "error", err)
	}
	if err := s.store.Delete(ctx, membershipKey(id, ownerID)); err != nil {
		s.logger.Warn("failed to clear geofence membership", "geofence", id, "error", err)
	}

	s.logger.Info("geofence deleted", "geofence", id, "owner", ownerID)
	return g, nil
}

// Contains reports whether c lies within the geofence. The boundary
// counts as inside.
func Contains(g models.Geofence, c models.Coordinate) bool {
	d := spatial.DistanceMeters(
		spatial.Point{Lat: g.Center.Lat, Lon: g.Center.Lng},
		spatial.Point{Lat: c.Lat, Lon: c.Lng},
	)
	return d <= g.RadiusMeters
}

// GeofenceEngine detects boundary crossings. Membership is a flag per
// (geofence, principal) in the key-value store; evaluation for one
// principal is serialised so concurrent reports cannot both observe the
// same prior state.
type GeofenceEngine struct {
	geofences *GeofenceService
	store     kv.Store
	locks     keyedMutex
	logger    *slog.Logger
}

// NewGeofenceEngine creates a new geofence engine
func NewGeofenceEngine(geofences *GeofenceService, store kv.Store, logger *slog.Logger) *GeofenceEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeofenceEngine{
		geofences: geofences,
		store:     store,
		logger:    logger.With("component", "geofence-engine"),
	}
}

// Evaluate checks a validated report against the principal's active
// geofences and returns the crossings it causes. A geofence whose state
// cannot be read or written is skipped for this report.
func (e *GeofenceEngine) Evaluate(ctx context.Context, report models.LocationReport) []models.GeofenceEvent {
	if report.Coordinate == nil {
		return nil
	}
	unlock := e.locks.Lock(report.PrincipalID)
	defer unlock()

	geofences, err := e.geofences.List(ctx, report.PrincipalID)
	if err != nil {
		e.logger.Warn("geofence lookup failed", "principal", report.PrincipalID, "error", err)
		return nil
	}

	var events []models.GeofenceEvent
	for _, g := range geofences {
		if !g.Active {
			continue
		}
		state, err := e.Membership(ctx, g.ID, report.PrincipalID)
		if err != nil {
			e.logger.Warn("geofence membership read failed", "geofence", g.ID, "principal", report.PrincipalID, "error", err)
			continue
		}

		next, kind, crossed := state.Next(Contains(g, *report.Coordinate), g)
		if !crossed {
			continue
		}
		if err := e.setMembership(ctx, g.ID, report.PrincipalID, next); err != nil {
			e.logger.Warn("geofence membership write failed", "geofence", g.ID, "principal", report.PrincipalID, "error", err)
			continue
		}

		events = append(events, models.GeofenceEvent{
			PrincipalID:  report.PrincipalID,
			DeviceID:     report.DeviceID,
			GeofenceID:   g.ID,
			GeofenceName: g.Name,
			Kind:         kind,
			Coordinate:   *report.Coordinate,
			Timestamp:    report.TimestampMillis,
		})
	}
	return events
}

// Membership returns the stored state of principalID for a geofence.
func (e *GeofenceEngine) Membership(ctx context.Context, geofenceID, principalID string) (models.MembershipState, error) {
	inside, err := e.store.Exists(ctx, membershipKey(geofenceID, principalID))
	if err != nil {
		return models.Outside, err
	}
	if inside {
		return models.Inside, nil
	}
	return models.Outside, nil
}

func (e *GeofenceEngine) setMembership(ctx context.Context, geofenceID, principalID string, state models.MembershipState) error {
	key := membershipKey(geofenceID, principalID)
	if state == models.Inside {
		return e.store.Set(ctx, key, []byte{1})
	}
	return e.store.Delete(ctx, key)
}
