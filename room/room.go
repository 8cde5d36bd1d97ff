package room

import (
	"sort"
	"sync"

	"github.com/Sourabh10122002/talkie-server/types"
)

// Conn is a live connection as seen by the registry.
type Conn interface {
	Id() string
	Identity() *types.Identity
	// Enqueue hands a serialized frame to the connection's writer. It never blocks and returns false if the frame
	// was not accepted (connection closed or its queue is full).
	Enqueue(frame []byte) bool
}

// Broadcaster delivers frames to connections. Components receive it at construction time instead of looking up a
// global server handle.
type Broadcaster interface {
	// BroadcastRoom sends frame to every connection in the room except the one with id exceptConnId.
	BroadcastRoom(roomId string, frame []byte, exceptConnId string) int
	// SendToIdentity sends frame to every live connection of the identity.
	SendToIdentity(identityId string, frame []byte) int
	// BroadcastAll sends frame to every live connection.
	BroadcastAll(frame []byte) int
}

// Registry keeps track of all live connections, which rooms they joined and which identity they belong to.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]Conn
	byIdentity map[string]map[string]Conn
	rooms      map[string]map[string]Conn
	joined     map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]Conn),
		byIdentity: make(map[string]map[string]Conn),
		rooms:      make(map[string]map[string]Conn),
		joined:     make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.Id()] = c
	identityId := c.Identity().Id
	if r.byIdentity[identityId] == nil {
		r.byIdentity[identityId] = make(map[string]Conn)
	}
	r.byIdentity[identityId][c.Id()] = c
	r.joined[c.Id()] = make(map[string]struct{})
}

// Remove drops the connection and takes it out of every room it joined. It returns the rooms that were left.
func (r *Registry) Remove(c Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(r.joined[c.Id()]))
	for roomId := range r.joined[c.Id()] {
		r.leaveLocked(c.Id(), roomId)
		left = append(left, roomId)
	}
	delete(r.joined, c.Id())
	delete(r.conns, c.Id())
	identityId := c.Identity().Id
	if conns, ok := r.byIdentity[identityId]; ok {
		delete(conns, c.Id())
		if len(conns) == 0 {
			delete(r.byIdentity, identityId)
		}
	}
	sort.Strings(left)
	return left
}

// Join adds a registered connection to a room. Unknown connections are ignored and false is returned.
func (r *Registry) Join(c Conn, roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.joined[c.Id()]
	if !ok {
		return false
	}
	if r.rooms[roomId] == nil {
		r.rooms[roomId] = make(map[string]Conn)
	}
	r.rooms[roomId][c.Id()] = c
	joined[roomId] = struct{}{}
	return true
}

// Leave removes the connection from the room. It returns false if the connection was not in the room.
func (r *Registry) Leave(c Conn, roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.joined[c.Id()][roomId]; !ok {
		return false
	}
	r.leaveLocked(c.Id(), roomId)
	return true
}

func (r *Registry) leaveLocked(connId, roomId string) {
	delete(r.joined[connId], roomId)
	if members, ok := r.rooms[roomId]; ok {
		delete(members, connId)
		if len(members) == 0 {
			delete(r.rooms, roomId)
		}
	}
}

func (r *Registry) InRoom(connId, roomId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[connId][roomId]
	return ok
}

// Rooms returns the rooms the connection joined, sorted.
func (r *Registry) Rooms(connId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.joined[connId]))
	for roomId := range r.joined[connId] {
		rooms = append(rooms, roomId)
	}
	sort.Strings(rooms)
	return rooms
}

func (r *Registry) NoConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) NoRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) NoMembers(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomId])
}

func deliver(conns []Conn, frame []byte) int {
	n := 0
	for _, c := range conns {
		if c.Enqueue(frame) {
			n++
		}
	}
	return n
}

// Enqueue may close a slow connection which calls back into the registry, so the lock is never held while
// delivering.

func (r *Registry) BroadcastRoom(roomId string, frame []byte, exceptConnId string) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[roomId]))
	for id, c := range r.rooms[roomId] {
		if id != exceptConnId {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	return deliver(targets, frame)
}

func (r *Registry) SendToIdentity(identityId string, frame []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.byIdentity[identityId]))
	for _, c := range r.byIdentity[identityId] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	return deliver(targets, frame)
}

func (r *Registry) BroadcastAll(frame []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	return deliver(targets, frame)
}
