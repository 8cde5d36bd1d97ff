package room

import (
	"sync"
	"testing"

	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       string
	identity *types.Identity
	full     bool

	sync.Mutex
	frames [][]byte
}

func (c *fakeConn) Id() string                { return c.id }
func (c *fakeConn) Identity() *types.Identity { return c.identity }
func (c *fakeConn) Enqueue(frame []byte) bool {
	if c.full {
		return false
	}
	c.Lock()
	defer c.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) count() int {
	c.Lock()
	defer c.Unlock()
	return len(c.frames)
}

func newConn(id, identityId string) *fakeConn {
	return &fakeConn{id: id, identity: &types.Identity{Id: identityId}}
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	a := newConn("a", "u1")
	b := newConn("b", "u2")
	r.Add(a)
	r.Add(b)

	assert.False(t, r.Join(newConn("x", "u3"), "c1"), "unregistered connections can not join")
	assert.True(t, r.Join(a, "c1"))
	assert.True(t, r.Join(a, "c1"), "joining twice is harmless")
	assert.True(t, r.Join(b, "c1"))
	assert.True(t, r.Join(a, "c2"))
	assert.Equal(t, 2, r.NoMembers("c1"))
	assert.Equal(t, 2, r.NoRooms())
	assert.Equal(t, []string{"c1", "c2"}, r.Rooms("a"))
	assert.True(t, r.InRoom("b", "c1"))

	assert.True(t, r.Leave(b, "c1"))
	assert.False(t, r.Leave(b, "c1"))
	assert.False(t, r.InRoom("b", "c1"))

	left := r.Remove(a)
	assert.Equal(t, []string{"c1", "c2"}, left)
	assert.Equal(t, 0, r.NoRooms())
	assert.Equal(t, 1, r.NoConnections())
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry()
	a := newConn("a", "u1")
	a2 := newConn("a2", "u1")
	b := newConn("b", "u2")
	slow := newConn("s", "u3")
	slow.full = true
	for _, c := range []*fakeConn{a, a2, b, slow} {
		r.Add(c)
		require.True(t, r.Join(c, "c1"))
	}

	assert.Equal(t, 2, r.BroadcastRoom("c1", []byte("x"), "a"))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, a2.count())
	assert.Equal(t, 1, b.count())

	assert.Equal(t, 2, r.SendToIdentity("u1", []byte("y")))
	assert.Equal(t, 0, r.SendToIdentity("nobody", []byte("y")))
	assert.Equal(t, 3, r.BroadcastAll([]byte("z")))
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 3, a2.count())
	assert.Equal(t, 2, b.count())
}
