package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/kv"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/service"
)

type memorySink struct {
	mu   sync.Mutex
	rows []models.LocationReport
}

func (s *memorySink) InsertLocations(_ context.Context, reports []models.LocationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, reports...)
	return nil
}

func (s *memorySink) Rows() []models.LocationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LocationReport(nil), s.rows...)
}

type fixture struct {
	handler  *Handler
	buffer   *service.LocationBuffer
	sessions *service.TrackingSessionManager
	sink     *memorySink
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, limiter Limiter) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	store := kv.NewMemory(clk)
	registry := NewRegistry()
	rooms := service.NewRoomPresenceRouter(registry, nil, logger)
	buffer := service.NewLocationBuffer(service.DefaultBufferCapacity)
	sink := &memorySink{}
	flusher := service.NewFlushScheduler(buffer, sink, clk, service.FlushConfig{}, logger)
	sessions := service.NewTrackingSessionManager(service.TrackingDeps{
		Store:   store,
		Rooms:   rooms,
		Flusher: flusher,
		Clock:   clk,
		Logger:  logger,
	})
	geofences := service.NewGeofenceService(store, clk, nil, logger)
	routes := service.NewRouteService(store, rooms, clk, nil, time.Hour, logger)
	rooms.RegisterResolver(models.SessionRoomPrefix, sessions)
	rooms.RegisterResolver(models.RouteRoomPrefix, routes)

	h := NewHandler(Deps{
		Buffer:    buffer,
		Flusher:   flusher,
		Sessions:  sessions,
		Geofences: geofences,
		Engine:    service.NewGeofenceEngine(geofences, store, logger),
		Routes:    routes,
		Rooms:     rooms,
		Registry:  registry,
		Limiter:   limiter,
		Clock:     clk,
		Logger:    logger,
	})
	return fixture{handler: h, buffer: buffer, sessions: sessions, sink: sink, clock: clk}
}

func (f fixture) connect(t *testing.T, principal, device string) *Connection {
	t.Helper()
	conn, err := f.handler.Connect(principal, device, JSON)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn
}

func (f fixture) send(t *testing.T, conn *Connection, typ, id string, data any) {
	t.Helper()
	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	f.handler.HandleMessage(context.Background(), conn, NewInbound(JSON, typ, id, payload))
}

func drain(c *Connection) []models.Event {
	var out []models.Event
	for {
		select {
		case ev := <-c.Outbox():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []models.Event, typ string) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func singleError(t *testing.T, events []models.Event) models.ErrorPayload {
	t.Helper()
	errs := ofType(events, models.EvtError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events in %+v, want 1", len(errs), events)
	}
	return errs[0].Data.(models.ErrorPayload)
}

func ackData(t *testing.T, events []models.Event, id string) any {
	t.Helper()
	for _, ev := range ofType(events, models.EvtAck) {
		if ev.ID == id {
			return ev.Data.(models.AckPayload).Data
		}
	}
	t.Fatalf("no ack for %q in %+v", id, events)
	return nil
}

func location(lat, lng float64) map[string]any {
	return map[string]any{"coordinate": map[string]float64{"lat": lat, "lng": lng}, "accuracy": 5}
}

func TestLocationUpdateIsBufferedAndFannedOut(t *testing.T) {
	f := newFixture(t, nil)
	phone := f.connect(t, "alice", "phone")
	laptop := f.connect(t, "alice", "laptop")
	bob := f.connect(t, "bob", "phone")

	payload := location(51.5, -0.12)
	payload["principalId"] = "mallory"
	f.send(t, phone, models.MsgLocationUpdate, "m1", payload)

	if n := f.buffer.Len("alice"); n != 1 {
		t.Fatalf("alice buffer = %d, want 1", n)
	}
	if n := f.buffer.Len("mallory"); n != 0 {
		t.Fatal("payload principal was trusted")
	}

	if got := ofType(drain(laptop), models.EvtLocationUpdate); len(got) != 1 {
		t.Fatalf("laptop got %d location updates, want 1", len(got))
	} else if r := got[0].Data.(models.LocationReport); r.PrincipalID != "alice" || r.DeviceID != "phone" {
		t.Fatalf("fanned out report = %+v", r)
	}
	if got := drain(phone); len(got) != 0 {
		t.Fatalf("sender got %+v, want silence on success", got)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("unrelated principal received %+v", got)
	}
}

func TestInvalidLocationIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.connect(t, "alice", "phone")
	f.send(t, conn, models.MsgGeofenceCreate, "g", map[string]any{
		"name": "home", "center": map[string]float64{"lat": 0, "lng": 0}, "radiusMeters": 100000000,
	})
	drain(conn)

	bad := location(95, 0)
	f.send(t, conn, models.MsgLocationUpdate, "m1", bad)

	events := drain(conn)
	if e := singleError(t, events); e.Code != models.CodeInvalidLocation {
		t.Fatalf("code = %s, want %s", e.Code, models.CodeInvalidLocation)
	}
	if len(events) != 1 {
		t.Fatalf("got extra events %+v", events)
	}
	if n := f.buffer.Len("alice"); n != 0 {
		t.Fatalf("invalid report buffered (%d)", n)
	}

	zeroAccuracy := location(10, 10)
	zeroAccuracy["accuracy"] = 0
	f.send(t, conn, models.MsgLocationUpdate, "m2", zeroAccuracy)
	if e := singleError(t, drain(conn)); e.Code != models.CodeInvalidLocation {
		t.Fatalf("zero accuracy code = %s", e.Code)
	}
}

func TestGeofenceAlertsReachPersonalAndAlertRooms(t *testing.T) {
	f := newFixture(t, nil)
	phone := f.connect(t, "alice", "phone")
	watch := f.connect(t, "alice", "watch")

	f.send(t, phone, models.MsgGeofenceCreate, "g1", map[string]any{
		"name": "office", "center": map[string]float64{"lat": 0, "lng": 0}, "radiusMeters": 100,
	})
	data := ackData(t, drain(phone), "g1").(map[string]any)
	g := data["geofence"].(models.Geofence)
	drain(watch)

	f.send(t, phone, models.MsgLocationUpdate, "", location(0, 0))
	f.send(t, phone, models.MsgLocationUpdate, "", location(0.0001, 0))

	for name, conn := range map[string]*Connection{"phone": phone, "watch": watch} {
		events := drain(conn)
		enters := ofType(events, models.EvtGeofenceEvent)
		alerts := ofType(events, models.EvtGeofenceAlert)
		if len(enters) != 1 || len(alerts) != 1 {
			t.Fatalf("%s got %d geofence events and %d alerts, want 1 each", name, len(enters), len(alerts))
		}
		ev := enters[0].Data.(models.GeofenceEvent)
		if ev.GeofenceID != g.ID || ev.Kind != models.GeofenceEnter {
			t.Fatalf("%s event = %+v", name, ev)
		}
	}
}

func TestTrackingOverMessages(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice", "phone")
	mallory := f.connect(t, "mallory", "laptop")

	f.send(t, alice, models.MsgTrackingStart, "t1", map[string]any{"intervalMs": 1000})
	events := drain(alice)
	started := ackData(t, events, "t1").(models.SessionEventPayload)
	if started.Session.DeviceID != "phone" || started.Session.Settings.IntervalMs != 1000 {
		t.Fatalf("started session %+v", started.Session)
	}
	if len(ofType(events, models.EvtTrackingStarted)) != 1 {
		t.Fatal("no tracking.started broadcast")
	}

	f.send(t, alice, models.MsgLocationUpdate, "", location(1, 1))
	rows := f.buffer.Flush("alice")
	if len(rows) != 1 || rows[0].SessionID != started.SessionID {
		t.Fatalf("report not attributed to the session: %+v", rows)
	}

	f.send(t, mallory, models.MsgTrackingStop, "x1", map[string]string{"sessionId": started.SessionID})
	foreign := singleError(t, drain(mallory))
	f.send(t, mallory, models.MsgTrackingStop, "x2", map[string]string{"sessionId": "does-not-exist"})
	unknown := singleError(t, drain(mallory))
	if foreign != unknown || foreign.Code != models.CodeNotFound {
		t.Fatalf("foreign %+v vs unknown %+v", foreign, unknown)
	}

	f.send(t, alice, models.MsgTrackingPause, "p1", map[string]string{"sessionId": started.SessionID})
	drain(alice)
	f.send(t, alice, models.MsgLocationUpdate, "", location(2, 2))
	if n := f.buffer.Len("alice"); n != 0 {
		t.Fatalf("paused session buffered %d reports", n)
	}
	f.send(t, alice, models.MsgTrackingPause, "p2", map[string]string{"sessionId": started.SessionID})
	if e := singleError(t, drain(alice)); e.Code != models.CodeInvalidState {
		t.Fatalf("double pause code = %s", e.Code)
	}

	f.send(t, alice, models.MsgTrackingResume, "r1", map[string]string{"sessionId": started.SessionID})
	f.send(t, alice, models.MsgTrackingStop, "s1", map[string]string{"sessionId": started.SessionID})
	events = drain(alice)
	ackData(t, events, "s1")
	if len(ofType(events, models.EvtTrackingStopped)) != 1 {
		t.Fatal("no tracking.stopped broadcast")
	}
	if f.sessions.Count() != 0 {
		t.Fatalf("%d sessions still live", f.sessions.Count())
	}
}

func TestLastDisconnectStopsSessionsAndFlushes(t *testing.T) {
	f := newFixture(t, nil)
	phone := f.connect(t, "alice", "phone")
	laptop := f.connect(t, "alice", "laptop")

	f.send(t, phone, models.MsgTrackingStart, "t1", nil)
	f.send(t, laptop, models.MsgTrackingStart, "t2", nil)
	f.send(t, laptop, models.MsgLocationUpdate, "", location(3, 3))

	f.handler.Disconnect(context.Background(), phone)
	if f.sessions.Count() != 1 {
		t.Fatalf("after first disconnect %d sessions live, want 1", f.sessions.Count())
	}
	if phone.Send(models.Event{Type: "x"}) {
		t.Fatal("send succeeded on a closed connection")
	}

	f.handler.Disconnect(context.Background(), laptop)
	f.handler.Disconnect(context.Background(), laptop)
	if f.sessions.Count() != 0 {
		t.Fatalf("after last disconnect %d sessions live", f.sessions.Count())
	}
	if rows := f.sink.Rows(); len(rows) != 1 {
		t.Fatalf("flushed %d rows, want 1", len(rows))
	}
	if stats := f.handler.Stats(); stats.Connections != 0 || stats.Rooms != 0 {
		t.Fatalf("stats after disconnect = %+v", stats)
	}
}

func TestLocationBatchReportsIndexedErrors(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.connect(t, "alice", "phone")

	batch := []map[string]any{location(1, 1), location(-91, 0), location(2, 2)}
	f.send(t, conn, models.MsgLocationBatch, "b1", batch)

	events := drain(conn)
	e := singleError(t, events)
	if e.Index == nil || *e.Index != 1 || e.Code != models.CodeInvalidLocation {
		t.Fatalf("batch error = %+v", e)
	}
	if len(events) != 1 {
		t.Fatalf("batch with a rejected report got %+v, want only the error", events)
	}
	if n := f.buffer.Len("alice"); n != 2 {
		t.Fatalf("buffered %d, want 2", n)
	}

	f.send(t, conn, models.MsgLocationBatch, "b2", map[string]any{"reports": batch[:1]})
	if got := drain(conn); len(got) != 0 {
		t.Fatalf("accepted batch got %+v, want silence", got)
	}
	if n := f.buffer.Len("alice"); n != 3 {
		t.Fatalf("buffered %d, want 3", n)
	}
}

func TestReportWithoutCoordinateIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.connect(t, "alice", "phone")
	f.send(t, conn, models.MsgGeofenceCreate, "g", map[string]any{
		"name": "null island", "center": map[string]float64{"lat": 0, "lng": 0}, "radiusMeters": 100,
	})
	drain(conn)

	payloads := map[string]any{
		"empty object":    map[string]any{},
		"device only":     map[string]any{"deviceId": "phone"},
		"null coordinate": map[string]any{"coordinate": nil, "accuracy": 5},
	}
	for name, payload := range payloads {
		f.send(t, conn, models.MsgLocationUpdate, name, payload)
		events := drain(conn)
		if e := singleError(t, events); e.Code != models.CodeInvalidLocation {
			t.Fatalf("%s: code = %s, want %s", name, e.Code, models.CodeInvalidLocation)
		}
		if len(events) != 1 {
			t.Fatalf("%s: got extra events %+v", name, events)
		}
	}

	// a CBOR null data field decodes to an empty report
	f.handler.HandleMessage(context.Background(), conn, NewInbound(CBOR, models.MsgLocationUpdate, "c1", []byte{0xf6}))
	if e := singleError(t, drain(conn)); e.Code != models.CodeInvalidLocation {
		t.Fatalf("cbor null: code = %s", e.Code)
	}

	f.send(t, conn, models.MsgLocationBatch, "b1", []map[string]any{{"deviceId": "phone"}})
	if e := singleError(t, drain(conn)); e.Code != models.CodeInvalidLocation || e.Index == nil || *e.Index != 0 {
		t.Fatalf("batch error = %+v", e)
	}

	if n := f.buffer.Len("alice"); n != 0 {
		t.Fatalf("buffered %d reports without a coordinate", n)
	}
}

func TestReportNamingForeignSessionIsNotAttributed(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice", "phone")
	bob := f.connect(t, "bob", "phone")

	f.send(t, bob, models.MsgTrackingStart, "t1", nil)
	bobSession := ackData(t, drain(bob), "t1").(models.SessionEventPayload).SessionID

	foreign := location(1, 1)
	foreign["sessionId"] = bobSession
	f.send(t, alice, models.MsgLocationUpdate, "", foreign)
	unknown := location(1, 1)
	unknown["sessionId"] = "no-such-session"
	f.send(t, alice, models.MsgLocationUpdate, "", unknown)

	rows := f.buffer.Flush("alice")
	if len(rows) != 2 {
		t.Fatalf("buffered %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.SessionID != "" {
			t.Fatalf("report kept session id %q it does not own", r.SessionID)
		}
	}

	f.send(t, alice, models.MsgTrackingStart, "t2", nil)
	aliceSession := ackData(t, drain(alice), "t2").(models.SessionEventPayload).SessionID
	f.send(t, alice, models.MsgLocationUpdate, "", foreign)
	rows = f.buffer.Flush("alice")
	if len(rows) != 1 || rows[0].SessionID != aliceSession {
		t.Fatalf("report not attributed to the device session: %+v", rows)
	}
	if n := f.buffer.Len("bob"); n != 0 {
		t.Fatalf("bob buffer = %d", n)
	}
}

func TestRoomJoinAndPresence(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice", "phone")
	bob := f.connect(t, "bob", "phone")

	f.send(t, bob, models.MsgRoomJoin, "j1", map[string]string{"roomId": models.PersonalRoom("alice")})
	if e := singleError(t, drain(bob)); e.Code != models.CodeAccessDenied {
		t.Fatalf("join foreign personal room code = %s", e.Code)
	}

	f.send(t, alice, models.MsgRouteShare, "s1", map[string]any{
		"sharedWith": []string{"bob"},
		"waypoints":  []map[string]float64{{"lat": 0, "lng": 0}, {"lat": 0, "lng": 0.01}},
		"name":       "loop",
	})
	route := ackData(t, drain(alice), "s1").(map[string]any)["route"].(models.SharedRoute)
	if shared := ofType(drain(bob), models.EvtRouteShared); len(shared) != 1 {
		t.Fatalf("bob got %d route.shared events", len(shared))
	}

	f.send(t, bob, models.MsgRoomJoin, "j2", map[string]string{"roomId": models.RouteRoom(route.ID)})
	ackData(t, drain(bob), "j2")
	if joined := ofType(drain(alice), models.EvtRoomUserJoined); len(joined) != 1 {
		t.Fatalf("alice got %d join notices", len(joined))
	}

	f.send(t, alice, models.MsgLocationUpdate, "", location(0, 0.005))
	if got := ofType(drain(bob), models.EvtLocationUpdate); len(got) != 1 {
		t.Fatalf("route recipient got %d location updates", len(got))
	}

	f.send(t, bob, models.MsgRoomLeave, "l1", map[string]string{"roomId": models.PersonalRoom("bob")})
	if e := singleError(t, drain(bob)); e.Code != models.CodeInvalidRequest {
		t.Fatalf("leaving personal room code = %s", e.Code)
	}
}

func TestUnknownTypeAndMissingPayload(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.connect(t, "alice", "phone")

	f.send(t, conn, "teleport", "u1", nil)
	if e := singleError(t, drain(conn)); e.Code != models.CodeUnknownType {
		t.Fatalf("code = %s", e.Code)
	}
	f.send(t, conn, models.MsgTrackingStop, "u2", nil)
	if e := singleError(t, drain(conn)); e.Code != models.CodeInvalidRequest {
		t.Fatalf("code = %s", e.Code)
	}
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }
func (denyAll) Forget(string)     {}

type panicLimiter struct{}

func (panicLimiter) Allow(string) bool { panic("boom") }
func (panicLimiter) Forget(string)     {}

func TestRateLimitedAndPanickingMessages(t *testing.T) {
	f := newFixture(t, denyAll{})
	conn := f.connect(t, "alice", "phone")
	f.send(t, conn, models.MsgLocationUpdate, "m1", location(1, 1))
	if e := singleError(t, drain(conn)); e.Code != models.CodeRateLimited {
		t.Fatalf("code = %s", e.Code)
	}

	f = newFixture(t, panicLimiter{})
	conn = f.connect(t, "alice", "phone")
	f.send(t, conn, models.MsgLocationUpdate, "m2", location(1, 1))
	if e := singleError(t, drain(conn)); e.Code != models.CodeInternal {
		t.Fatalf("code = %s", e.Code)
	}
	if conn.State() != StateIdle {
		t.Fatalf("state after panic = %s", conn.State())
	}
}

func TestConnectRequiresPrincipal(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.handler.Connect("", "phone", JSON); err != ErrNoPrincipal {
		t.Fatalf("err = %v, want ErrNoPrincipal", err)
	}
}
