package testutil

import (
	"context"
	"testing"

	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/stretchr/testify/require"
)

// Well known fixture ids. Group g1 is owned by Owner, has Admin as admin and Member, Outsider as plain members.
// Stranger is not in the group at all.
const (
	Owner    = "owner"
	Admin    = "admin"
	Member   = "member"
	Outsider = "outsider"
	Stranger = "stranger"

	GroupId        = "g1"
	PublicChannel  = "general"
	PrivateChannel = "secret"
	VoiceChannel   = "lounge"
)

func Identity(id string) *types.Identity {
	return &types.Identity{Id: id, Username: id + "-name", Email: id + "@example.com"}
}

// NewStore returns an in-memory store seeded with the fixture users, group and channels. Private and voice channels
// list Member explicitly, Outsider is only a group member.
func NewStore(t *testing.T) *persistence.BuntStore {
	t.Helper()
	s, err := persistence.NewBuntStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	for _, id := range []string{Owner, Admin, Member, Outsider, Stranger} {
		require.NoError(t, s.StoreUser(ctx, *Identity(id)))
	}
	require.NoError(t, s.StoreGroup(ctx, types.Group{
		Id:        GroupId,
		Name:      "team",
		OwnerId:   Owner,
		AdminIds:  []string{Admin},
		MemberIds: []string{Admin, Member, Outsider},
	}))
	require.NoError(t, s.StoreChannel(ctx, types.Channel{Id: PublicChannel, Name: "general", Type: types.ChannelTypePublic, GroupId: GroupId}))
	require.NoError(t, s.StoreChannel(ctx, types.Channel{Id: PrivateChannel, Name: "secret", Type: types.ChannelTypePrivate, GroupId: GroupId, Members: []string{Member}}))
	require.NoError(t, s.StoreChannel(ctx, types.Channel{Id: VoiceChannel, Name: "lounge", Type: types.ChannelTypeVoice, GroupId: GroupId, Members: []string{Member}}))
	return s
}
