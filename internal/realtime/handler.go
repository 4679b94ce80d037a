// Package realtime is the connection-facing core: it authenticates
// nothing itself, but turns inbound envelopes from an authenticated
// principal into buffer writes, session transitions, geofence checks and
// room fan-out.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/service"
)

// ErrNoPrincipal is returned by Connect for unauthenticated callers.
var ErrNoPrincipal = errors.New("principal required")

// Limiter throttles inbound messages per connection.
type Limiter interface {
	Allow(key string) bool
	Forget(key string)
}

// Deps wires a Handler.
type Deps struct {
	Validator  *service.LocationValidator
	Buffer     *service.LocationBuffer
	Flusher    service.PrincipalFlusher
	Sessions   *service.TrackingSessionManager
	Geofences  *service.GeofenceService
	Engine     *service.GeofenceEngine
	Routes     *service.RouteService
	Rooms      *service.RoomPresenceRouter
	Registry   *Registry
	Limiter    Limiter
	Clock      clock.Clock
	Logger     *slog.Logger
	OutboxSize int
}

// requestFunc handles a request-style message and returns the ack data.
type requestFunc func(ctx context.Context, conn *Connection, msg Inbound) (any, error)

// Handler dispatches inbound messages for all connections.
type Handler struct {
	deps     Deps
	validate *validator.Validate
	requests map[string]requestFunc
	logger   *slog.Logger
}

// NewHandler creates a new message handler
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = service.NewLocationValidator()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	h := &Handler{
		deps:     deps,
		validate: service.NewValidate(),
		logger:   deps.Logger.With("component", "realtime"),
	}
	h.requests = map[string]requestFunc{
		models.MsgTrackingStart:  h.trackingStart,
		models.MsgTrackingStop:   h.trackingStop,
		models.MsgTrackingPause:  h.trackingPause,
		models.MsgTrackingResume: h.trackingResume,
		models.MsgRoomJoin:       h.roomJoin,
		models.MsgRoomLeave:      h.roomLeave,
		models.MsgRouteShare:     h.routeShare,
		models.MsgRouteUnshare:   h.routeUnshare,
		models.MsgGeofenceCreate: h.geofenceCreate,
		models.MsgGeofenceDelete: h.geofenceDelete,
	}
	return h
}

// Registry returns the connection registry.
func (h *Handler) Registry() *Registry {
	return h.deps.Registry
}

// Connect registers a connection for an authenticated principal and joins
// its personal and alert rooms. An empty deviceID is replaced by the
// connection id.
func (h *Handler) Connect(principalID, deviceID string, codec Codec) (*Connection, error) {
	if principalID == "" {
		return nil, ErrNoPrincipal
	}
	id := uuid.NewString()
	if deviceID == "" {
		deviceID = id
	}
	conn := newConnection(id, principalID, deviceID, codec, h.deps.OutboxSize, h.deps.Clock.Now())
	count := h.deps.Registry.Add(conn)
	h.deps.Rooms.JoinSystem(principalID, models.PersonalRoom(principalID))
	h.deps.Rooms.JoinSystem(principalID, models.AlertRoom(principalID))

	h.logger.Info("connection opened",
		"connection", conn.id,
		"principal", principalID,
		"device", deviceID,
		"encoding", conn.codec.Name(),
		"principalConnections", count,
	)
	return conn, nil
}

// Disconnect tears a connection down. Sessions started over it are
// stopped; when it was the principal's last connection every remaining
// session is stopped, the buffer is flushed and room memberships are
// dropped. Calling it twice is harmless.
func (h *Handler) Disconnect(ctx context.Context, conn *Connection) {
	if !conn.close() {
		return
	}
	p := conn.principalID
	remaining := h.deps.Registry.Remove(conn)

	stopped := h.deps.Sessions.StopSessions(ctx, p, conn.Sessions())
	if remaining == 0 {
		stopped = append(stopped, h.deps.Sessions.StopAllForPrincipal(ctx, p)...)
	}
	for _, s := range stopped {
		h.deps.Rooms.Broadcast(models.PersonalRoom(p), sessionEvent(models.EvtTrackingStopped, s), "")
	}

	if h.deps.Flusher != nil {
		if _, err := h.deps.Flusher.FlushPrincipal(ctx, p); err != nil {
			h.logger.Warn("final flush failed", "principal", p, "error", err)
		}
	}
	if remaining == 0 {
		h.deps.Buffer.Remove(p)
		h.deps.Rooms.LeaveAll(p)
	}
	if h.deps.Limiter != nil {
		h.deps.Limiter.Forget(conn.id)
	}

	h.logger.Info("connection closed",
		"connection", conn.id,
		"principal", p,
		"stoppedSessions", len(stopped),
		"droppedEvents", conn.Dropped(),
	)
}

// Shutdown disconnects every live connection.
func (h *Handler) Shutdown(ctx context.Context) {
	for _, c := range h.deps.Registry.All() {
		h.Disconnect(ctx, c)
	}
}

// HandleMessage processes one inbound envelope. Every failure is reported
// to the sender as an error event; nothing propagates to the caller.
func (h *Handler) HandleMessage(ctx context.Context, conn *Connection, msg Inbound) {
	if conn.State() == StateDisconnected {
		return
	}
	conn.setState(StateReceiving)
	defer conn.setState(StateIdle)

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("message handler panic",
				"type", msg.Type,
				"connection", conn.id,
				"principal", conn.principalID,
				"panic", r,
			)
			conn.Send(errorEvent(msg.ID, models.CodeInternal, "internal error", nil))
		}
	}()

	if h.deps.Limiter != nil && !h.deps.Limiter.Allow(conn.id) {
		conn.Send(errorEvent(msg.ID, models.CodeRateLimited, "rate limit exceeded", nil))
		return
	}

	switch msg.Type {
	case models.MsgLocationUpdate:
		h.locationUpdate(ctx, conn, msg)
	case models.MsgLocationBatch:
		h.locationBatch(ctx, conn, msg)
	default:
		fn, ok := h.requests[msg.Type]
		if !ok {
			conn.Send(errorEvent(msg.ID, models.CodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type), nil))
			return
		}
		data, err := fn(ctx, conn, msg)
		if err != nil {
			h.sendError(conn, msg, err, nil)
			return
		}
		conn.Send(models.Event{Type: models.EvtAck, ID: msg.ID, Data: models.AckPayload{OK: true, Data: data}})
	}
}

// ErrorPayloadFor maps a core error to the code and message shown to the
// client. Storage and unexpected failures are not described in detail.
func ErrorPayloadFor(err error) models.ErrorPayload {
	switch {
	case errors.Is(err, models.ErrInvalidLocation):
		return models.ErrorPayload{Code: models.CodeInvalidLocation, Message: err.Error()}
	case errors.Is(err, models.ErrInvalidInput):
		return models.ErrorPayload{Code: models.CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, models.ErrInvalidState):
		return models.ErrorPayload{Code: models.CodeInvalidState, Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return models.ErrorPayload{Code: models.CodeNotFound, Message: err.Error()}
	case errors.Is(err, models.ErrAccessDenied):
		return models.ErrorPayload{Code: models.CodeAccessDenied, Message: err.Error()}
	case errors.Is(err, models.ErrStorage):
		return models.ErrorPayload{Code: models.CodeStorage, Message: "storage temporarily unavailable"}
	default:
		return models.ErrorPayload{Code: models.CodeInternal, Message: "internal error"}
	}
}

func (h *Handler) sendError(conn *Connection, msg Inbound, err error, index *int) {
	payload := ErrorPayloadFor(err)
	payload.Index = index
	if payload.Code == models.CodeInternal || payload.Code == models.CodeStorage {
		h.logger.Error("message failed",
			"type", msg.Type,
			"connection", conn.id,
			"principal", conn.principalID,
			"error", err,
		)
	}
	conn.Send(models.Event{Type: models.EvtError, ID: msg.ID, Data: payload})
}

func errorEvent(id, code, message string, index *int) models.Event {
	return models.Event{Type: models.EvtError, ID: id, Data: models.ErrorPayload{Code: code, Message: message, Index: index}}
}

func sessionEvent(typ string, s models.TrackingSession) models.Event {
	return models.Event{Type: typ, Data: models.SessionEventPayload{SessionID: s.ID, Session: s}}
}

func (h *Handler) decodeRequest(msg Inbound, v any) error {
	if err := msg.Decode(v); err != nil {
		return err
	}
	return service.ValidateRequest(h.validate, v)
}

func (h *Handler) locationUpdate(ctx context.Context, conn *Connection, msg Inbound) {
	var report models.LocationReport
	if err := msg.Decode(&report); err != nil {
		h.sendError(conn, msg, err, nil)
		return
	}
	if err := h.Ingest(ctx, conn, report); err != nil {
		h.sendError(conn, msg, err, nil)
	}
}

// locationBatch accepts either a bare array of reports or an object with
// a reports field. Each report is handled independently; failures carry
// the report index. Like location.update, success is silent.
func (h *Handler) locationBatch(ctx context.Context, conn *Connection, msg Inbound) {
	var reports []models.LocationReport
	if err := msg.Decode(&reports); err != nil {
		var batch models.LocationBatch
		if err2 := msg.Decode(&batch); err2 != nil {
			h.sendError(conn, msg, err, nil)
			return
		}
		reports = batch.Reports
	}

	for i, report := range reports {
		if err := h.Ingest(ctx, conn, report); err != nil {
			idx := i
			h.sendError(conn, msg, err, &idx)
		}
	}
}

// Ingest runs one report through the pipeline: validate, buffer,
// evaluate geofences, fan out. The principal always comes from the
// connection, never from the payload.
func (h *Handler) Ingest(ctx context.Context, conn *Connection, report models.LocationReport) error {
	p := conn.principalID
	report.PrincipalID = p
	if report.DeviceID == "" {
		report.DeviceID = conn.deviceID
	}
	if report.TimestampMillis == 0 {
		report.TimestampMillis = h.deps.Clock.Now().UnixMilli()
	}
	if err := h.deps.Validator.Check(report); err != nil {
		return err
	}

	record := true
	if report.SessionID != "" {
		// only the principal's own live sessions may be named
		if s, err := h.deps.Sessions.Get(p, report.SessionID); err == nil {
			record = s.Status == models.SessionActive
		} else {
			report.SessionID = ""
		}
	}
	if report.SessionID == "" {
		if s, ok := h.deps.Sessions.ActiveForDevice(p, report.DeviceID); ok {
			report.SessionID = s.ID
			record = s.Status == models.SessionActive
		}
	}

	if record && h.deps.Buffer.Add(p, report) {
		h.logger.Debug("location buffer full, oldest report evicted", "principal", p)
	}

	events := h.deps.Engine.Evaluate(ctx, report)

	h.deps.Rooms.Fanout(h.locationRooms(p), models.Event{Type: models.EvtLocationUpdate, Data: report}, conn.id)
	for _, ev := range events {
		h.deps.Rooms.Broadcast(models.PersonalRoom(p), models.Event{Type: models.EvtGeofenceEvent, Data: ev}, "")
		h.deps.Rooms.Broadcast(models.AlertRoom(p), models.Event{Type: models.EvtGeofenceAlert, Data: ev}, "")
	}
	return nil
}

// locationRooms are the rooms a principal's positions are shared with.
// The alert room only carries alerts.
func (h *Handler) locationRooms(principalID string) []string {
	rooms := h.deps.Rooms.RoomsOf(principalID)
	out := rooms[:0]
	for _, r := range rooms {
		if strings.HasPrefix(r, models.AlertRoomPrefix) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (h *Handler) trackingStart(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.StartTrackingRequest
	if msg.HasPayload() {
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
	}
	if req.DeviceID == "" {
		req.DeviceID = conn.deviceID
	}
	if err := service.ValidateRequest(h.validate, req); err != nil {
		return nil, err
	}

	s, err := h.deps.Sessions.Start(ctx, conn.principalID, req)
	if err != nil {
		return nil, err
	}
	conn.trackSession(s.ID)
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), sessionEvent(models.EvtTrackingStarted, s), "")
	return models.SessionEventPayload{SessionID: s.ID, Session: s}, nil
}

func (h *Handler) trackingStop(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.SessionRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	s, err := h.deps.Sessions.Stop(ctx, conn.principalID, req.SessionID)
	if err != nil {
		return nil, err
	}
	conn.untrackSession(s.ID)
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), sessionEvent(models.EvtTrackingStopped, s), "")
	return models.SessionEventPayload{SessionID: s.ID, Session: s}, nil
}

func (h *Handler) trackingPause(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.SessionRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	s, err := h.deps.Sessions.Pause(ctx, conn.principalID, req.SessionID)
	if err != nil {
		return nil, err
	}
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), sessionEvent(models.EvtTrackingPaused, s), "")
	return models.SessionEventPayload{SessionID: s.ID, Session: s}, nil
}

func (h *Handler) trackingResume(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.SessionRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	s, err := h.deps.Sessions.Resume(ctx, conn.principalID, req.SessionID)
	if err != nil {
		return nil, err
	}
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), sessionEvent(models.EvtTrackingResumed, s), "")
	return models.SessionEventPayload{SessionID: s.ID, Session: s}, nil
}

func (h *Handler) roomJoin(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.RoomRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	members, joined, err := h.deps.Rooms.Join(ctx, conn.principalID, req.RoomID)
	if err != nil {
		return nil, err
	}
	if joined {
		h.deps.Rooms.Broadcast(req.RoomID, models.Event{
			Type: models.EvtRoomUserJoined,
			Data: models.RoomPresencePayload{PrincipalID: conn.principalID, RoomID: req.RoomID},
		}, conn.id)
	}
	return map[string]any{"roomId": req.RoomID, "members": members}, nil
}

func (h *Handler) roomLeave(_ context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.RoomRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	if _, implicit := models.ImplicitRoomOwner(req.RoomID); implicit {
		return nil, fmt.Errorf("%w: personal and alert rooms cannot be left", models.ErrInvalidInput)
	}
	if h.deps.Rooms.Leave(conn.principalID, req.RoomID) {
		h.deps.Rooms.Broadcast(req.RoomID, models.Event{
			Type: models.EvtRoomUserLeft,
			Data: models.RoomPresencePayload{PrincipalID: conn.principalID, RoomID: req.RoomID},
		}, "")
	}
	return map[string]any{"roomId": req.RoomID}, nil
}

func (h *Handler) routeShare(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.ShareRouteRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	route, err := h.deps.Routes.Share(ctx, conn.principalID, req)
	if err != nil {
		return nil, err
	}
	ev := models.Event{Type: models.EvtRouteShared, Data: route}
	for _, recipient := range route.SharedWith {
		h.deps.Rooms.Broadcast(models.PersonalRoom(recipient), ev, "")
	}
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), ev, conn.id)
	return map[string]any{"routeId": route.ID, "route": route}, nil
}

func (h *Handler) routeUnshare(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.RouteRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	route, err := h.deps.Routes.Unshare(ctx, conn.principalID, req.RouteID)
	if err != nil {
		return nil, err
	}
	ev := models.Event{Type: models.EvtRouteUnshared, Data: map[string]string{"routeId": route.ID}}
	for _, recipient := range route.SharedWith {
		h.deps.Rooms.Broadcast(models.PersonalRoom(recipient), ev, "")
	}
	h.deps.Rooms.Broadcast(models.PersonalRoom(conn.principalID), ev, conn.id)
	return map[string]any{"routeId": route.ID}, nil
}

func (h *Handler) geofenceCreate(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.CreateGeofenceRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	g, err := h.deps.Geofences.Create(ctx, conn.principalID, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"geofenceId": g.ID, "geofence": g}, nil
}

func (h *Handler) geofenceDelete(ctx context.Context, conn *Connection, msg Inbound) (any, error) {
	var req models.GeofenceRequest
	if err := h.decodeRequest(msg, &req); err != nil {
		return nil, err
	}
	g, err := h.deps.Geofences.Delete(ctx, conn.principalID, req.GeofenceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"geofenceId": g.ID}, nil
}

// Stats summarises live state for the stats endpoint.
type Stats struct {
	Connections int                 `json:"connections"`
	Principals  int                 `json:"principals"`
	Sessions    int                 `json:"sessions"`
	Rooms       int                 `json:"rooms"`
	Buffer      service.BufferStats `json:"buffer"`
}

// Stats returns a snapshot of live counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Connections: h.deps.Registry.Count(),
		Principals:  h.deps.Registry.Principals(),
		Sessions:    h.deps.Sessions.Count(),
		Rooms:       h.deps.Rooms.RoomCount(),
		Buffer:      h.deps.Buffer.Stats(),
	}
}
