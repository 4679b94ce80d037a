package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/records-live-go/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer lets a slog handler write from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (s *sequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s%d", s.prefix, s.next)
}

type delivery struct {
	Principal string
	Event     models.Event
	Exclude   string
}

// recordingDeliverer captures fan-out instead of writing to sockets.
type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (d *recordingDeliverer) Deliver(principalID string, event models.Event, excludeConnection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery{Principal: principalID, Event: event, Exclude: excludeConnection})
	return 1
}

func (d *recordingDeliverer) For(principalID string) []models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Event
	for _, del := range d.deliveries {
		if del.Principal == principalID {
			out = append(out, del.Event)
		}
	}
	return out
}

type staticDirectory map[string]models.Room

func (d staticDirectory) GetRoom(_ context.Context, id string) (*models.Room, error) {
	room, ok := d[id]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

type recordingSessionSink struct {
	mu      sync.Mutex
	records []models.SessionLifecycleRecord
}

func (s *recordingSessionSink) InsertSessionEvent(_ context.Context, rec models.SessionLifecycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSessionSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Event
	}
	return out
}

type recordingFlusher struct {
	mu    sync.Mutex
	calls []string
}

func (f *recordingFlusher) FlushPrincipal(_ context.Context, principalID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, principalID)
	return 0, nil
}

func report(principalID string, lat, lng float64) models.LocationReport {
	return models.LocationReport{
		PrincipalID:     principalID,
		DeviceID:        "phone",
		Coordinate:      &models.Coordinate{Lat: lat, Lng: lng},
		TimestampMillis: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
