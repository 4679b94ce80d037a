package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jengzang/records-live-go/internal/models"
)

func TestRoomJoinAccess(t *testing.T) {
	directory := staticDirectory{
		"team:blue": {ID: "team:blue", OwnerID: "alice", Members: []string{"bob"}},
	}
	rooms := NewRoomPresenceRouter(&recordingDeliverer{}, directory, discardLogger())
	ctx := context.Background()

	tests := []struct {
		principal string
		room      string
		allowed   bool
	}{
		{"alice", models.PersonalRoom("alice"), true},
		{"alice", models.AlertRoom("alice"), true},
		{"bob", models.PersonalRoom("alice"), false},
		{"bob", models.AlertRoom("alice"), false},
		{"alice", "team:blue", true},
		{"bob", "team:blue", true},
		{"eve", "team:blue", false},
		{"eve", "team:red", false},
		{"alice", models.SessionRoom("unregistered"), false},
	}
	for _, tt := range tests {
		_, _, err := rooms.Join(ctx, tt.principal, tt.room)
		if tt.allowed && err != nil {
			t.Errorf("%s joining %s: %v", tt.principal, tt.room, err)
		}
		if !tt.allowed && !errors.Is(err, ErrRoomAccess) {
			t.Errorf("%s joining %s: err = %v, want ErrRoomAccess", tt.principal, tt.room, err)
		}
	}
}

func TestRoomDeniedAndMissingLookAlike(t *testing.T) {
	directory := staticDirectory{"team:blue": {ID: "team:blue", OwnerID: "alice"}}
	rooms := NewRoomPresenceRouter(&recordingDeliverer{}, directory, discardLogger())

	_, _, denied := rooms.Join(context.Background(), "eve", "team:blue")
	_, _, missing := rooms.Join(context.Background(), "eve", "team:none")
	if denied.Error() != missing.Error() {
		t.Fatalf("denied %q differs from missing %q", denied, missing)
	}
}

func TestRoomMembership(t *testing.T) {
	rooms := NewRoomPresenceRouter(&recordingDeliverer{}, nil, discardLogger())

	if !rooms.JoinSystem("alice", "r1") {
		t.Fatal("first join not reported as new")
	}
	if rooms.JoinSystem("alice", "r1") {
		t.Fatal("repeat join reported as new")
	}
	rooms.JoinSystem("bob", "r1")
	rooms.JoinSystem("alice", "r2")

	if got := rooms.Members("r1"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("Members(r1) = %v", got)
	}
	if !rooms.Leave("bob", "r1") || rooms.Leave("bob", "r1") {
		t.Fatal("Leave did not report membership correctly")
	}

	left := rooms.LeaveAll("alice")
	if len(left) != 2 {
		t.Fatalf("LeaveAll = %v", left)
	}
	if rooms.RoomCount() != 0 {
		t.Fatalf("RoomCount = %d after everyone left", rooms.RoomCount())
	}
}

func TestRoomFanoutDeliversOncePerPrincipal(t *testing.T) {
	d := &recordingDeliverer{}
	rooms := NewRoomPresenceRouter(d, nil, discardLogger())
	rooms.JoinSystem("alice", "r1")
	rooms.JoinSystem("bob", "r1")
	rooms.JoinSystem("bob", "r2")
	rooms.JoinSystem("carol", "r3")

	ev := models.Event{Type: models.EvtLocationUpdate}
	rooms.Fanout([]string{"r1", "r2"}, ev, "conn-1")

	if got := d.For("bob"); len(got) != 1 {
		t.Fatalf("bob received %d events, want 1", len(got))
	}
	if got := d.For("alice"); len(got) != 1 {
		t.Fatalf("alice received %d events, want 1", len(got))
	}
	if got := d.For("carol"); len(got) != 0 {
		t.Fatalf("carol received %d events, want 0", len(got))
	}
	for _, del := range d.deliveries {
		if del.Exclude != "conn-1" {
			t.Fatalf("exclude not forwarded: %+v", del)
		}
	}
}

func TestRoomCloseRemovesMembers(t *testing.T) {
	d := &recordingDeliverer{}
	rooms := NewRoomPresenceRouter(d, nil, discardLogger())
	rooms.JoinSystem("alice", "r1")
	rooms.JoinSystem("bob", "r1")

	if removed := rooms.Close("r1"); len(removed) != 2 {
		t.Fatalf("Close removed %v", removed)
	}
	if n := rooms.Broadcast("r1", models.Event{Type: "x"}, ""); n != 0 {
		t.Fatalf("Broadcast to closed room delivered %d", n)
	}
	if rooms.RoomsOf("bob") == nil || len(rooms.RoomsOf("bob")) != 0 {
		t.Fatalf("bob still in %v", rooms.RoomsOf("bob"))
	}
}
