package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jengzang/records-live-go/internal/models"
)

// ErrRoomAccess is returned for both unknown rooms and rooms the caller
// may not join so the two cases are indistinguishable.
var ErrRoomAccess = fmt.Errorf("room not found or %w", models.ErrAccessDenied)

// RoomResolver looks up a room's access list. It returns nil, nil for an
// unknown room.
type RoomResolver interface {
	ResolveRoom(ctx context.Context, roomID string) (*models.Room, error)
}

// RoomDirectory adapts a repository-style lookup to RoomResolver.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
}

type directoryResolver struct {
	directory RoomDirectory
}

func (d directoryResolver) ResolveRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return d.directory.GetRoom(ctx, roomID)
}

// Deliverer hands an event to every live connection of a principal,
// optionally skipping one connection. It returns the number of
// connections the event was queued on.
type Deliverer interface {
	Deliver(principalID string, event models.Event, excludeConnection string) int
}

// RoomPresenceRouter tracks which principals have joined which rooms and
// fans events out to them. Only principal ids are stored; connections are
// resolved through the Deliverer at broadcast time.
type RoomPresenceRouter struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room -> principals
	joined  map[string]map[string]struct{} // principal -> rooms

	resolverMu sync.RWMutex
	resolvers  map[string]RoomResolver
	directory  RoomResolver

	deliverer Deliverer
	logger    *slog.Logger
}

// NewRoomPresenceRouter creates a new room router. directory resolves
// rooms whose prefix has no registered resolver and may be nil.
func NewRoomPresenceRouter(deliverer Deliverer, directory RoomDirectory, logger *slog.Logger) *RoomPresenceRouter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RoomPresenceRouter{
		members:   make(map[string]map[string]struct{}),
		joined:    make(map[string]map[string]struct{}),
		resolvers: make(map[string]RoomResolver),
		deliverer: deliverer,
		logger:    logger.With("component", "rooms"),
	}
	if directory != nil {
		r.directory = directoryResolver{directory: directory}
	}
	return r
}

// RegisterResolver routes access checks for rooms starting with prefix.
func (r *RoomPresenceRouter) RegisterResolver(prefix string, resolver RoomResolver) {
	r.resolverMu.Lock()
	defer r.resolverMu.Unlock()
	r.resolvers[prefix] = resolver
}

func (r *RoomPresenceRouter) resolverFor(roomID string) RoomResolver {
	r.resolverMu.RLock()
	defer r.resolverMu.RUnlock()
	for prefix, res := range r.resolvers {
		if strings.HasPrefix(roomID, prefix) {
			return res
		}
	}
	return r.directory
}

// CanJoin checks whether principalID may join roomID.
func (r *RoomPresenceRouter) CanJoin(ctx context.Context, principalID, roomID string) error {
	if principalID == "" || roomID == "" {
		return ErrRoomAccess
	}
	if owner, ok := models.ImplicitRoomOwner(roomID); ok {
		if owner == principalID {
			return nil
		}
		return ErrRoomAccess
	}

	resolver := r.resolverFor(roomID)
	if resolver == nil {
		return ErrRoomAccess
	}
	room, err := resolver.ResolveRoom(ctx, roomID)
	if err != nil {
		r.logger.Warn("room lookup failed", "room", roomID, "error", err)
		return fmt.Errorf("%w: room lookup: %w", models.ErrStorage, err)
	}
	if room == nil || !room.Allows(principalID) {
		return ErrRoomAccess
	}
	return nil
}

// Join adds principalID to roomID after an access check. It returns the
// room members after joining and whether the principal was newly added.
func (r *RoomPresenceRouter) Join(ctx context.Context, principalID, roomID string) ([]string, bool, error) {
	if err := r.CanJoin(ctx, principalID, roomID); err != nil {
		return nil, false, err
	}
	added := r.JoinSystem(principalID, roomID)
	return r.Members(roomID), added, nil
}

// JoinSystem adds a membership without an access check. It is used for
// rooms the core provisions itself.
func (r *RoomPresenceRouter) JoinSystem(principalID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[roomID]
	if !ok {
		room = make(map[string]struct{})
		r.members[roomID] = room
	}
	if _, ok := room[principalID]; ok {
		return false
	}
	room[principalID] = struct{}{}

	rooms, ok := r.joined[principalID]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[principalID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave removes principalID from roomID and reports whether it was a member.
func (r *RoomPresenceRouter) Leave(principalID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(principalID, roomID)
}

func (r *RoomPresenceRouter) leaveLocked(principalID, roomID string) bool {
	room, ok := r.members[roomID]
	if !ok {
		return false
	}
	if _, ok := room[principalID]; !ok {
		return false
	}
	delete(room, principalID)
	if len(room) == 0 {
		delete(r.members, roomID)
	}
	if rooms, ok := r.joined[principalID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, principalID)
		}
	}
	return true
}

// LeaveAll removes principalID from every room and returns the rooms left.
func (r *RoomPresenceRouter) LeaveAll(principalID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for roomID := range r.joined[principalID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.leaveLocked(principalID, roomID)
	}
	sort.Strings(left)
	return left
}

// Close removes every member from roomID and returns who was removed.
func (r *RoomPresenceRouter) Close(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for p := range r.members[roomID] {
		removed = append(removed, p)
	}
	for _, p := range removed {
		r.leaveLocked(p, roomID)
	}
	sort.Strings(removed)
	return removed
}

// Members returns the principals currently in roomID.
func (r *RoomPresenceRouter) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.members[roomID])
}

// RoomsOf returns the rooms principalID has joined.
func (r *RoomPresenceRouter) RoomsOf(principalID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.joined[principalID])
}

// IsMember reports whether principalID has joined roomID.
func (r *RoomPresenceRouter) IsMember(principalID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][principalID]
	return ok
}

// RoomCount returns the number of rooms with at least one member.
func (r *RoomPresenceRouter) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast delivers event to every member of roomID. excludeConnection,
// when set, is skipped so a sender does not receive its own message.
func (r *RoomPresenceRouter) Broadcast(roomID string, event models.Event, excludeConnection string) int {
	return r.Fanout([]string{roomID}, event, excludeConnection)
}

// Fanout delivers event once to each principal joined to any of roomIDs.
func (r *RoomPresenceRouter) Fanout(roomIDs []string, event models.Event, excludeConnection string) int {
	if r.deliverer == nil {
		return 0
	}
	r.mu.RLock()
	seen := make(map[string]struct{})
	var targets []string
	for _, roomID := range roomIDs {
		for p := range r.members[roomID] {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		delivered += r.deliverer.Deliver(p, event, excludeConnection)
	}
	return delivered
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
