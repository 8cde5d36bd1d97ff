package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/Sourabh10122002/talkie-server/testutil"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	group := &types.Group{Id: "g", OwnerId: "o", AdminIds: []string{"o", "a"}, MemberIds: []string{"o", "a", "m", "x"}}
	public := &types.Channel{Id: "pub", Type: types.ChannelTypePublic, GroupId: "g"}
	private := &types.Channel{Id: "priv", Type: types.ChannelTypePrivate, GroupId: "g", Members: []string{"m"}}
	voice := &types.Channel{Id: "voice", Type: types.ChannelTypeVoice, GroupId: "g", Members: []string{"m"}}
	odd := &types.Channel{Id: "odd", Type: "video", GroupId: "g"}

	tests := []struct {
		channel *types.Channel
		user    string
		allowed bool
	}{
		{public, "o", true},
		{public, "a", true},
		{public, "m", true},
		{public, "x", true},
		{public, "s", false},
		{private, "o", true},
		{private, "a", true},
		{private, "m", true},
		{private, "x", false},
		{private, "s", false},
		{voice, "o", true},
		{voice, "m", true},
		{voice, "x", false},
		{odd, "x", false},
		{odd, "o", true},
	}
	for _, tt := range tests {
		err := Decide(&types.Identity{Id: tt.user}, tt.channel, group)
		if tt.allowed {
			assert.NoError(t, err, "%s in %s", tt.user, tt.channel.Id)
		} else {
			assert.True(t, types.IsKind(err, types.ErrorKindAuthorization), "%s in %s", tt.user, tt.channel.Id)
		}
	}
	assert.Error(t, Decide(&types.Identity{}, public, group))
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()
	a := NewAuthorizer(testutil.NewStore(t), nil)

	assert.NoError(t, a.CanJoin(ctx, testutil.Identity(testutil.Outsider), testutil.PublicChannel))
	err := a.CanPost(ctx, testutil.Identity(testutil.Outsider), testutil.PrivateChannel)
	assert.True(t, types.IsKind(err, types.ErrorKindAuthorization))
	assert.NoError(t, a.CanPost(ctx, testutil.Identity(testutil.Admin), testutil.PrivateChannel))
	assert.NoError(t, a.CanJoin(ctx, testutil.Identity(testutil.Member), testutil.VoiceChannel))

	err = a.CanJoin(ctx, testutil.Identity(testutil.Member), "nope")
	assert.True(t, types.IsKind(err, types.ErrorKindNotFound))
	err = a.CanJoin(ctx, testutil.Identity(testutil.Member), "")
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))
}

type brokenOracle struct{}

func (brokenOracle) GetChannel(context.Context, string) (*types.Channel, error) {
	return &types.Channel{Id: "c", GroupId: "g", Type: types.ChannelTypePublic}, nil
}

func (brokenOracle) GetGroup(context.Context, string) (*types.Group, error) {
	return nil, errors.New("connection reset")
}

func TestAuthorizerStoreFailure(t *testing.T) {
	err := NewAuthorizer(brokenOracle{}, nil).CanJoin(context.Background(), testutil.Identity("x"), "c")
	assert.Equal(t, types.ErrorKindInternal, types.KindOf(err))
}
