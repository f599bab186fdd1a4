// Package registry tracks which connections are present in which rooms.
//
// The registry is the single source of truth for live room membership. It is
// deliberately unaware of websockets, persistence, and the bus: the hub
// composes those around it. All state lives behind one mutex; rooms are
// created on first join and removed the moment their last member leaves.
package registry

import (
	"sort"
	"sync"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// Conn is the write side of a connection as the registry sees it. Send and
// SendControl report false when the connection is no longer accepting frames.
type Conn interface {
	// Send enqueues a data frame for delivery.
	Send(v any) bool
	// SendControl enqueues a high-priority frame such as an ack or room-info.
	SendControl(v any) bool
	// PublicKey returns the verified identity bound to the connection.
	PublicKey() string
	// Close tears the connection down.
	Close()
}

type member struct {
	participant wire.Participant
	conn        Conn
}

type room struct {
	members map[string]member // keyed by participant public key
}

// Registry maps room names to their current members. The zero value is not
// usable; call New.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join registers conn as the connection for p in the named room, creating the
// room if it does not exist. A second join with the same public key replaces
// the earlier connection: the newest connection wins and the superseded one
// is returned so the caller can close it outside the registry lock. created
// reports whether the room came into existence with this join.
func (reg *Registry) Join(roomName string, p wire.Participant, conn Conn) (created bool, superseded Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		r = &room{members: make(map[string]member)}
		reg.rooms[roomName] = r
		created = true
	}
	if prev, ok := r.members[p.PublicKey]; ok && prev.conn != conn {
		superseded = prev.conn
	}
	r.members[p.PublicKey] = member{participant: p, conn: conn}
	return created, superseded
}

// Leave removes the member with the given public key from the room, but only
// while conn is still the registered connection: a connection that was
// superseded by a reconnect cannot evict its replacement. emptied reports
// whether the room was deleted because this was its last member.
func (reg *Registry) Leave(roomName, publicKey string, conn Conn) (removed wire.Participant, emptied bool, ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, exists := reg.rooms[roomName]
	if !exists {
		return wire.Participant{}, false, false
	}
	m, exists := r.members[publicKey]
	if !exists || m.conn != conn {
		return wire.Participant{}, false, false
	}
	delete(r.members, publicKey)
	if len(r.members) == 0 {
		delete(reg.rooms, roomName)
		emptied = true
	}
	return m.participant, emptied, true
}

// Snapshot returns the room's participants sorted by name, then public key.
// The slice is a copy; mutating it does not affect the registry.
func (reg *Registry) Snapshot(roomName string) []wire.Participant {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]wire.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PublicKey < out[j].PublicKey
	})
	return out
}

// Lookup returns the connection registered for publicKey in the room.
func (reg *Registry) Lookup(roomName, publicKey string) (Conn, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return nil, false
	}
	m, ok := r.members[publicKey]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// ConnsExcept returns every connection in the room except the one registered
// under exceptKey. Pass an empty key to get all connections in the room.
func (reg *Registry) ConnsExcept(roomName, exceptKey string) []Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(r.members))
	for key, m := range r.members {
		if key == exceptKey {
			continue
		}
		out = append(out, m.conn)
	}
	return out
}

// Count returns the number of members currently in the room.
func (reg *Registry) Count(roomName string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomName]
	if !ok {
		return 0
	}
	return len(r.members)
}

// Rooms returns the names of all rooms with at least one member, sorted.
func (reg *Registry) Rooms() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]string, 0, len(reg.rooms))
	for name := range reg.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
