package realtime

import (
	"testing"
	"time"

	"github.com/jengzang/records-live-go/internal/models"
)

func TestRegistryDeliver(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	a1 := newConnection("a1", "alice", "phone", JSON, 4, now)
	a2 := newConnection("a2", "alice", "laptop", JSON, 4, now)
	b1 := newConnection("b1", "bob", "phone", JSON, 4, now)

	r.Add(a1)
	if n := r.Add(a2); n != 2 {
		t.Fatalf("Add returned %d, want 2", n)
	}
	r.Add(b1)

	if n := r.Deliver("alice", models.Event{Type: "x"}, "a1"); n != 1 {
		t.Fatalf("Deliver returned %d, want 1", n)
	}
	if len(drain(a1)) != 0 || len(drain(a2)) != 1 || len(drain(b1)) != 0 {
		t.Fatal("event delivered to the wrong connections")
	}

	if n := r.Remove(a1); n != 1 {
		t.Fatalf("Remove returned %d, want 1", n)
	}
	if n := r.Remove(a2); n != 0 {
		t.Fatalf("Remove returned %d, want 0", n)
	}
	if r.Count() != 1 || r.Principals() != 1 {
		t.Fatalf("Count=%d Principals=%d", r.Count(), r.Principals())
	}
}

func TestConnectionOutboxDropsWhenFull(t *testing.T) {
	c := newConnection("c", "alice", "phone", JSON, 2, time.Now())
	for i := 0; i < 3; i++ {
		c.Send(models.Event{Type: "x"})
	}
	if c.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", c.Dropped())
	}

	if !c.close() || c.close() {
		t.Fatal("close is not idempotent")
	}
	c.setState(StateIdle)
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s after close", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}
