package membership

import (
	"context"
	"errors"

	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
)

// Oracle is the read path to the current channel and group records.
type Oracle interface {
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	GetGroup(ctx context.Context, id string) (*types.Group, error)
}

// Authorizer is the single place where room permissions are decided. Join, send, receipts and history all go
// through it.
type Authorizer struct {
	oracle Oracle
	logger hclog.Logger
}

func NewAuthorizer(oracle Oracle, logger hclog.Logger) *Authorizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Authorizer{oracle: oracle, logger: logger}
}

// Decide applies the membership rule to already loaded records:
//   - public channels are open to every group member (owner and admins included)
//   - private and voice channels are open to the explicit channel members, the group owner and group admins
//
// It returns nil if access is allowed.
func Decide(identity *types.Identity, channel *types.Channel, group *types.Group) error {
	if identity == nil || identity.Id == "" {
		return types.NewAuthorizationError("no identity")
	}
	if group.IsOwner(identity.Id) || group.IsAdmin(identity.Id) {
		return nil
	}
	switch channel.Type {
	case types.ChannelTypePublic:
		if group.IsMember(identity.Id) {
			return nil
		}
		return types.NewAuthorizationError("not a member of group %s", group.Id)
	case types.ChannelTypePrivate, types.ChannelTypeVoice:
		if channel.HasMember(identity.Id) {
			return nil
		}
		return types.NewAuthorizationError("not a member of %s channel %s", channel.Type, channel.Id)
	}
	return types.NewAuthorizationError("unknown channel type %q", channel.Type)
}

func (a *Authorizer) load(ctx context.Context, channelId string) (*types.Channel, *types.Group, error) {
	if channelId == "" {
		return nil, nil, types.NewValidationError("channelId is required")
	}
	channel, err := a.oracle.GetChannel(ctx, channelId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil, types.NewNotFoundError("channel %s not found", channelId)
		}
		return nil, nil, err
	}
	group, err := a.oracle.GetGroup(ctx, channel.GroupId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil, types.NewNotFoundError("group of channel %s not found", channelId)
		}
		return nil, nil, err
	}
	return channel, group, nil
}

// CanJoin reports whether the identity may join the channel's room. Records are read on every call, membership
// changes take effect on the next join.
func (a *Authorizer) CanJoin(ctx context.Context, identity *types.Identity, channelId string) error {
	channel, group, err := a.load(ctx, channelId)
	if err != nil {
		return err
	}
	if err := Decide(identity, channel, group); err != nil {
		a.logger.Debug("access denied", "identity", identity.Id, "channel", channelId, "error", err)
		return err
	}
	return nil
}

// CanPost uses the same rule as CanJoin, there is no separate write permission (also not for voice channels).
func (a *Authorizer) CanPost(ctx context.Context, identity *types.Identity, channelId string) error {
	return a.CanJoin(ctx, identity, channelId)
}
