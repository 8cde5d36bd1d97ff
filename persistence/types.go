package persistence

import (
	"context"
	"errors"

	"github.com/Sourabh10122002/talkie-server/types"
)

// ErrNotFound is returned by every Store lookup that does not find the requested record.
var ErrNotFound = errors.New("not found")

// Store is the contract the gateway needs from durable storage.
type Store interface {
	GetUser(ctx context.Context, id string) (*types.Identity, error)
	GetUserByEmail(ctx context.Context, email string) (*types.Identity, error)
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	GetGroup(ctx context.Context, id string) (*types.Group, error)

	// PersistMessage stores a new message. The message id must be set.
	PersistMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	// UpdateMessage applies mut as an atomic set-union to the message's receipts. It returns the updated message and
	// whether anything changed. Concurrent calls never lose an update.
	UpdateMessage(ctx context.Context, id string, mut types.ReceiptMutation) (*types.Message, bool, error)
	// UnreadMessages returns the messages of a channel that were not sent by readerId and not yet read by readerId,
	// oldest first.
	UnreadMessages(ctx context.Context, channelId, readerId string) ([]*types.Message, error)
	// ChannelHistory returns up to limit messages of a channel, skipping the offset newest ones, oldest first.
	ChannelHistory(ctx context.Context, channelId string, offset, limit int) ([]*types.Message, error)

	StoreUser(ctx context.Context, user types.Identity) error
	StoreGroup(ctx context.Context, group types.Group) error
	StoreChannel(ctx context.Context, channel types.Channel) error

	Close() error
}
