package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/kv"
	"github.com/jengzang/records-live-go/internal/models"
)

// DefaultSessionSnapshotTTL bounds how long a session snapshot survives
// in the key-value store after its last change.
const DefaultSessionSnapshotTTL = 24 * time.Hour

// ErrSessionNotFound is returned for unknown sessions and for sessions
// owned by another principal.
var ErrSessionNotFound = fmt.Errorf("session %w", models.ErrNotFound)

// SessionSink records session lifecycle events durably.
type SessionSink interface {
	InsertSessionEvent(ctx context.Context, rec models.SessionLifecycleRecord) error
}

// TrackingDeps wires a TrackingSessionManager.
type TrackingDeps struct {
	Store       kv.Store
	Sink        SessionSink
	Rooms       *RoomPresenceRouter
	Flusher     PrincipalFlusher
	Clock       clock.Clock
	IDs         IDGenerator
	SnapshotTTL time.Duration
	Logger      *slog.Logger
}

// TrackingSessionManager owns the lifecycle of tracking sessions. The
// authoritative state is in memory; snapshots go to the key-value store
// and created/ended records to the session sink.
type TrackingSessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*models.TrackingSession

	// serialises transitions of one session including their persistence
	sessionLocks keyedMutex

	store       kv.Store
	sink        SessionSink
	rooms       *RoomPresenceRouter
	flusher     PrincipalFlusher
	clock       clock.Clock
	ids         IDGenerator
	snapshotTTL time.Duration
	logger      *slog.Logger
}

// NewTrackingSessionManager creates a new tracking session manager
func NewTrackingSessionManager(deps TrackingDeps) *TrackingSessionManager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.SnapshotTTL <= 0 {
		deps.SnapshotTTL = DefaultSessionSnapshotTTL
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &TrackingSessionManager{
		sessions:    make(map[string]*models.TrackingSession),
		store:       deps.Store,
		sink:        deps.Sink,
		rooms:       deps.Rooms,
		flusher:     deps.Flusher,
		clock:       deps.Clock,
		ids:         deps.IDs,
		snapshotTTL: deps.SnapshotTTL,
		logger:      deps.Logger.With("component", "tracking"),
	}
}

func sessionKey(id string) string {
	return "tracking:session:" + id
}

// Start opens a new active session for principalID on the requested device.
func (m *TrackingSessionManager) Start(ctx context.Context, principalID string, req models.StartTrackingRequest) (models.TrackingSession, error) {
	if principalID == "" || req.DeviceID == "" {
		return models.TrackingSession{}, fmt.Errorf("%w: principal and device are required", models.ErrInvalidInput)
	}
	settings := req.Settings()
	if settings.IntervalMs <= 0 {
		return models.TrackingSession{}, fmt.Errorf("%w: intervalMs must be positive", models.ErrInvalidInput)
	}

	session := models.TrackingSession{
		ID:          m.ids.NewID(),
		PrincipalID: principalID,
		DeviceID:    req.DeviceID,
		StartTime:   m.clock.Now(),
		Status:      models.SessionActive,
		Settings:    settings,
	}

	unlock := m.sessionLocks.Lock(session.ID)
	defer unlock()

	m.mu.Lock()
	stored := session
	m.sessions[session.ID] = &stored
	m.mu.Unlock()

	m.saveSnapshot(ctx, session)
	m.record(ctx, session, models.SessionEventCreated)
	if m.rooms != nil {
		m.rooms.JoinSystem(principalID, models.SessionRoom(session.ID))
	}

	m.logger.Info("tracking session started", "session", session.ID, "principal", principalID, "device", session.DeviceID)
	return session, nil
}

// Pause suspends recording for an active session.
func (m *TrackingSessionManager) Pause(ctx context.Context, principalID, sessionID string) (models.TrackingSession, error) {
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	session, err := m.transition(principalID, sessionID, models.SessionPaused)
	if err != nil {
		return models.TrackingSession{}, err
	}
	m.saveSnapshot(ctx, session)
	return session, nil
}

// Resume restarts recording for a paused session.
func (m *TrackingSessionManager) Resume(ctx context.Context, principalID, sessionID string) (models.TrackingSession, error) {
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	session, err := m.transition(principalID, sessionID, models.SessionActive)
	if err != nil {
		return models.TrackingSession{}, err
	}
	m.saveSnapshot(ctx, session)
	return session, nil
}

// Stop ends a session for good and flushes the owner's pending reports.
func (m *TrackingSessionManager) Stop(ctx context.Context, principalID, sessionID string) (models.TrackingSession, error) {
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	session, err := m.transition(principalID, sessionID, models.SessionStopped)
	if err != nil {
		return models.TrackingSession{}, err
	}

	if m.store != nil {
		if err := m.store.Delete(ctx, sessionKey(sessionID)); err != nil {
			m.logger.Warn("failed to delete session snapshot", "session", sessionID, "error", err)
		}
	}
	m.record(ctx, session, models.SessionEventEnded)
	if m.rooms != nil {
		m.rooms.Close(models.SessionRoom(sessionID))
	}
	if m.flusher != nil {
		if _, err := m.flusher.FlushPrincipal(ctx, principalID); err != nil {
			m.logger.Warn("flush on session stop failed", "session", sessionID, "principal", principalID, "error", err)
		}
	}

	m.logger.Info("tracking session stopped", "session", sessionID, "principal", principalID)
	return session, nil
}

// StopSessions stops the given sessions of principalID, skipping any that
// are already gone.
func (m *TrackingSessionManager) StopSessions(ctx context.Context, principalID string, sessionIDs []string) []models.TrackingSession {
	var stopped []models.TrackingSession
	for _, id := range sessionIDs {
		s, err := m.Stop(ctx, principalID, id)
		if err != nil {
			continue
		}
		stopped = append(stopped, s)
	}
	return stopped
}

// StopAllForPrincipal stops every live session of principalID.
func (m *TrackingSessionManager) StopAllForPrincipal(ctx context.Context, principalID string) []models.TrackingSession {
	var ids []string
	for _, s := range m.ListForPrincipal(principalID) {
		ids = append(ids, s.ID)
	}
	return m.StopSessions(ctx, principalID, ids)
}

// transition applies next to the in-memory session. Stopped sessions are
// removed from the live set.
func (m *TrackingSessionManager) transition(principalID, sessionID string, next models.SessionStatus) (models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.PrincipalID != principalID {
		return models.TrackingSession{}, ErrSessionNotFound
	}
	if !session.Status.CanTransition(next) {
		return models.TrackingSession{}, fmt.Errorf("%w: session is %s", models.ErrInvalidState, session.Status)
	}

	session.Status = next
	if next == models.SessionStopped {
		end := m.clock.Now()
		session.EndTime = &end
		delete(m.sessions, sessionID)
	}
	return *session, nil
}

// Get returns a live session owned by principalID.
func (m *TrackingSessionManager) Get(principalID, sessionID string) (models.TrackingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.PrincipalID != principalID {
		return models.TrackingSession{}, ErrSessionNotFound
	}
	return *session, nil
}

// ListForPrincipal returns the live sessions of principalID, oldest first.
func (m *TrackingSessionManager) ListForPrincipal(principalID string) []models.TrackingSession {
	m.mu.RLock()
	var out []models.TrackingSession
	for _, s := range m.sessions {
		if s.PrincipalID == principalID {
			out = append(out, *s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ActiveForDevice returns the live session of a device when there is
// exactly one. Reports without a session id are attributed to it.
func (m *TrackingSessionManager) ActiveForDevice(principalID, deviceID string) (models.TrackingSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.TrackingSession
	for _, s := range m.sessions {
		if s.PrincipalID != principalID || s.DeviceID != deviceID {
			continue
		}
		if found != nil {
			return models.TrackingSession{}, false
		}
		found = s
	}
	if found == nil {
		return models.TrackingSession{}, false
	}
	return *found, true
}

// ResolveRoom exposes session rooms to the room router. Only the session
// owner may join.
func (m *TrackingSessionManager) ResolveRoom(_ context.Context, roomID string) (*models.Room, error) {
	id := roomID[len(models.SessionRoomPrefix):]
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &models.Room{ID: roomID, OwnerID: session.PrincipalID}, nil
}

// Count returns the number of live sessions.
func (m *TrackingSessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot reads a session snapshot back from the key-value store.
func (m *TrackingSessionManager) Snapshot(ctx context.Context, sessionID string) (models.TrackingSession, error) {
	var session models.TrackingSession
	if m.store == nil {
		return session, ErrSessionNotFound
	}
	data, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return session, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return session, nil
}

func (m *TrackingSessionManager) saveSnapshot(ctx context.Context, session models.TrackingSession) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		m.logger.Error("failed to encode session snapshot", "session", session.ID, "error", err)
		return
	}
	if err := m.store.SetWithExpiry(ctx, sessionKey(session.ID), data, m.snapshotTTL); err != nil {
		m.logger.Warn("failed to save session snapshot", "session", session.ID, "error", err)
	}
}

func (m *TrackingSessionManager) record(ctx context.Context, session models.TrackingSession, event string) {
	if m.sink == nil {
		return
	}
	rec := models.SessionLifecycleRecord{
		SessionID:   session.ID,
		PrincipalID: session.PrincipalID,
		DeviceID:    session.DeviceID,
		Event:       event,
		Status:      session.Status,
		Settings:    session.Settings,
		StartTime:   session.StartTime,
		OccurredAt:  m.clock.Now(),
	}
	if err := m.sink.InsertSessionEvent(ctx, rec); err != nil {
		m.logger.Warn("failed to record session event", "session", session.ID, "event", event, "error", err)
	}
}
