package presence

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/Sourabh10122002/talkie-server/testutil"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastSnapshot(t *testing.T, rec *testutil.Recorder) []types.PresenceEntry {
	frames := rec.Events(types.EventPresenceSnapshot)
	require.NotEmpty(t, frames)
	snapshot := make([]types.PresenceEntry, 0)
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &snapshot))
	return snapshot
}

func TestRegisterBroadcastsOnTransitionsOnly(t *testing.T) {
	rec := testutil.NewRecorder()
	r := NewRegistry(rec, nil)
	alice := testutil.Identity("alice")
	bob := testutil.Identity("bob")

	assert.True(t, r.Register(alice, "a1"))
	assert.False(t, r.Register(alice, "a2"))
	assert.True(t, r.Register(bob, "b1"))
	assert.Len(t, rec.Events(types.EventPresenceSnapshot), 2)

	snapshot := lastSnapshot(t, rec)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "alice", snapshot[0].Id)
	assert.Equal(t, "bob-name", snapshot[1].Username)
	assert.Equal(t, "all", rec.Frames[0].Target)

	assert.False(t, r.Unregister(alice, "a1"), "alice still has a2")
	assert.True(t, r.IsOnline("alice"))
	assert.False(t, r.Unregister(alice, "unknown"))
	assert.True(t, r.Unregister(alice, "a2"))
	assert.False(t, r.IsOnline("alice"))
	assert.Len(t, rec.Events(types.EventPresenceSnapshot), 3)
	snapshot = lastSnapshot(t, rec)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "bob", snapshot[0].Id)
}

func TestInsertionOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	for _, id := range []string{"c", "a", "b"} {
		r.Register(testutil.Identity(id), id+"-1")
	}
	r.Unregister(testutil.Identity("a"), "a-1")
	r.Register(testutil.Identity("a"), "a-2")
	ids := make([]string, 0)
	for _, e := range r.Snapshot() {
		ids = append(ids, e.Id)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

// For any sequence of connects and disconnects across N connections of one identity, the identity is online iff at
// least one of them is live.
func TestOnlineIffLiveConnection(t *testing.T) {
	const n = 5
	rnd := rand.New(rand.NewSource(42))
	alice := testutil.Identity("alice")
	changes := 0
	r := NewRegistry(nil, nil)
	r.OnChange(func(int) { changes++ })
	live := make(map[string]bool)
	for step := 0; step < 500; step++ {
		connId := string(rune('a' + rnd.Intn(n)))
		if live[connId] {
			r.Unregister(alice, connId)
			delete(live, connId)
		} else {
			r.Register(alice, connId)
			live[connId] = true
		}
		assert.Equal(t, len(live) > 0, r.IsOnline("alice"), "step %d", step)
		assert.Equal(t, len(live) > 0, len(r.Snapshot()) == 1, "step %d", step)
	}
	assert.Greater(t, changes, 0)
}

func TestResync(t *testing.T) {
	rec := testutil.NewRecorder()
	r := NewRegistry(rec, nil)
	r.Register(testutil.Identity("alice"), "a1")
	r.Resync()
	assert.Len(t, rec.Events(types.EventPresenceSnapshot), 2)
	assert.Equal(t, 1, r.NoOnline())
}
