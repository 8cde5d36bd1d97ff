package presence

import (
	"sync"

	"github.com/Sourabh10122002/talkie-server/room"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
)

// Registry is the process-wide set of online identities. An identity is online as long as at least one of its
// connections is registered.
type Registry struct {
	mu sync.Mutex

	// identity id -> live connection ids
	conns map[string]map[string]struct{}
	// online identities in the order they came online
	order   []string
	entries map[string]types.PresenceEntry

	broadcaster room.Broadcaster
	logger      hclog.Logger
	onChange    func(online int)
}

func NewRegistry(broadcaster room.Broadcaster, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		conns:       make(map[string]map[string]struct{}),
		order:       make([]string, 0),
		entries:     make(map[string]types.PresenceEntry),
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// OnChange installs a callback that is called with the number of online identities after every transition.
func (r *Registry) OnChange(fn func(online int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Register adds the connection. It returns true if the identity just came online, in which case the new snapshot
// has been broadcast to all connections.
func (r *Registry) Register(identity *types.Identity, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.conns[identity.Id]
	if !ok {
		conns = make(map[string]struct{})
		r.conns[identity.Id] = conns
	}
	conns[connId] = struct{}{}
	if ok {
		return false
	}
	r.order = append(r.order, identity.Id)
	r.entries[identity.Id] = types.NewPresenceEntry(identity)
	r.logger.Debug("identity online", "identity", identity.Id, "online", len(r.order))
	r.publishLocked()
	return true
}

// Unregister removes the connection. It returns true if the identity went offline, i.e. this was its last
// connection, in which case the new snapshot has been broadcast.
func (r *Registry) Unregister(identity *types.Identity, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.conns[identity.Id]
	if !ok {
		return false
	}
	if _, ok := conns[connId]; !ok {
		return false
	}
	delete(conns, connId)
	if len(conns) > 0 {
		return false
	}
	delete(r.conns, identity.Id)
	delete(r.entries, identity.Id)
	for i, id := range r.order {
		if id == identity.Id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("identity offline", "identity", identity.Id, "online", len(r.order))
	r.publishLocked()
	return true
}

func (r *Registry) snapshotLocked() []types.PresenceEntry {
	snapshot := make([]types.PresenceEntry, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.entries[id])
	}
	return snapshot
}

// publishLocked broadcasts while still holding the lock, so observers see snapshots in mutation order.
func (r *Registry) publishLocked() {
	if r.onChange != nil {
		r.onChange(len(r.order))
	}
	if r.broadcaster == nil {
		return
	}
	frame, err := types.EncodeFrame(types.EventPresenceSnapshot, r.snapshotLocked())
	if err != nil {
		r.logger.Error("could not encode presence snapshot", "error", err)
		return
	}
	r.broadcaster.BroadcastAll(frame)
}

// Snapshot returns the online identities, ordered by the time they came online.
func (r *Registry) Snapshot() []types.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) IsOnline(identityId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[identityId]
	return ok
}

func (r *Registry) NoOnline() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Resync broadcasts the current snapshot. It is run periodically so that clients which missed an update converge.
func (r *Registry) Resync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked()
}
