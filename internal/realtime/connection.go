package realtime

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jengzang/records-live-go/internal/models"
)

// DefaultOutboxSize is the number of events queued per connection before
// further events are dropped.
const DefaultOutboxSize = 64

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnected ConnState = iota
	StateReceiving
	StateIdle
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is one authenticated client socket. The transport reads
// events from Outbox and writes them; the core only ever calls Send.
type Connection struct {
	id          string
	principalID string
	deviceID    string
	codec       Codec
	connectedAt time.Time

	state   atomic.Int32
	outbox  chan models.Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	mu       sync.Mutex
	sessions map[string]struct{}
}

func newConnection(id, principalID, deviceID string, codec Codec, outboxSize int, now time.Time) *Connection {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	if codec == nil {
		codec = JSON
	}
	return &Connection{
		id:          id,
		principalID: principalID,
		deviceID:    deviceID,
		codec:       codec,
		connectedAt: now,
		outbox:      make(chan models.Event, outboxSize),
		done:        make(chan struct{}),
		sessions:    make(map[string]struct{}),
	}
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) PrincipalID() string    { return c.principalID }
func (c *Connection) DeviceID() string       { return c.deviceID }
func (c *Connection) Codec() Codec           { return c.codec }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Outbox yields events queued for the client.
func (c *Connection) Outbox() <-chan models.Event { return c.outbox }

// Done is closed once the connection is disconnected.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// setState moves between the live states. A disconnected connection
// stays disconnected.
func (c *Connection) setState(s ConnState) {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateDisconnected {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Send queues an event without blocking. It returns false when the
// connection is gone or its outbox is full.
func (c *Connection) Send(event models.Event) bool {
	if c.State() == StateDisconnected {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- event:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events were discarded on a full outbox.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}

// close marks the connection disconnected. It reports whether this call
// performed the transition.
func (c *Connection) close() bool {
	closed := false
	c.once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		closed = true
	})
	return closed
}

func (c *Connection) trackSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = struct{}{}
}

func (c *Connection) untrackSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Sessions lists the tracking sessions started over this connection that
// are still live.
func (c *Connection) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
