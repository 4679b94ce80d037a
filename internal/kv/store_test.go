package kv

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jengzang/records-live-go/internal/clock"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })
	return map[string]Store{
		"memory": NewMemory(nil),
		"badger": badgerStore,
	}
}

func TestStoreValues(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}
			if err := store.Set(ctx, "geofence:g1", []byte(`{"id":"g1"}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := store.Get(ctx, "geofence:g1")
			if err != nil || string(got) != `{"id":"g1"}` {
				t.Fatalf("Get = %q, %v", got, err)
			}
			ok, err := store.Exists(ctx, "geofence:g1")
			if err != nil || !ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
			if err := store.Delete(ctx, "geofence:g1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			ok, err = store.Exists(ctx, "geofence:g1")
			if err != nil || ok {
				t.Fatalf("Exists after delete = %v, %v", ok, err)
			}
			if err := store.Delete(ctx, "geofence:g1"); err != nil {
				t.Fatalf("deleting a missing key must succeed: %v", err)
			}
		})
	}
}

func TestStoreSets(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, m := range []string{"g2", "g1", "g3", "g1"} {
				if err := store.AddToSet(ctx, "geofences:alice", m); err != nil {
					t.Fatalf("AddToSet: %v", err)
				}
			}
			// A set whose name shares a prefix must not leak members.
			if err := store.AddToSet(ctx, "geofences:alice2", "x"); err != nil {
				t.Fatalf("AddToSet: %v", err)
			}
			got, err := store.Members(ctx, "geofences:alice")
			if err != nil {
				t.Fatalf("Members: %v", err)
			}
			if want := []string{"g1", "g2", "g3"}; !reflect.DeepEqual(got, want) {
				t.Fatalf("Members = %v, want %v", got, want)
			}
			if err := store.RemoveFromSet(ctx, "geofences:alice", "g2"); err != nil {
				t.Fatalf("RemoveFromSet: %v", err)
			}
			got, _ = store.Members(ctx, "geofences:alice")
			if want := []string{"g1", "g3"}; !reflect.DeepEqual(got, want) {
				t.Fatalf("Members after remove = %v, want %v", got, want)
			}
			empty, err := store.Members(ctx, "geofences:nobody")
			if err != nil || len(empty) != 0 {
				t.Fatalf("Members(empty) = %v, %v", empty, err)
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemory(fake)

	if err := store.SetWithExpiry(ctx, "route:r1", []byte("x"), time.Hour); err != nil {
		t.Fatalf("SetWithExpiry: %v", err)
	}
	fake.Advance(59 * time.Minute)
	if _, err := store.Get(ctx, "route:r1"); err != nil {
		t.Fatalf("value expired early: %v", err)
	}
	fake.Advance(time.Minute)
	if _, err := store.Get(ctx, "route:r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after ttl err = %v, want ErrNotFound", err)
	}
	if err := store.SetWithExpiry(ctx, "route:r2", []byte("x"), 0); err == nil {
		t.Fatal("zero ttl must be rejected")
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, store := range openStores(t) {
		if err := store.Set(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
			t.Errorf("%s: Set with cancelled ctx err = %v", name, err)
		}
	}
}
