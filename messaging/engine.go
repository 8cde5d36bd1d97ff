package messaging

import (
	"context"
	"errors"

	"github.com/Sourabh10122002/talkie-server/metrics"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/room"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
)

// Engine advances the delivery/read state of messages. Every update is a set-union in the store and updates of the
// same message are additionally serialized, so concurrent marks never lose each other.
type Engine struct {
	store       persistence.Store
	authorizer  Authorizer
	broadcaster room.Broadcaster
	logger      hclog.Logger
	metrics     *metrics.Metrics

	messageLocks *keyedMutex
}

func NewEngine(store persistence.Store, authorizer Authorizer, broadcaster room.Broadcaster, logger hclog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		store:        store,
		authorizer:   authorizer,
		broadcaster:  broadcaster,
		logger:       logger,
		metrics:      m,
		messageLocks: newKeyedMutex(),
	}
}

// MarkDelivered records that the identity received the message. It returns true if the message changed (and the
// update was broadcast).
func (e *Engine) MarkDelivered(ctx context.Context, identity *types.Identity, messageId, channelId string) (bool, error) {
	return e.mark(ctx, identity, messageId, channelId, types.DeliveredMutation(identity.Id), string(types.MessageStatusDelivered))
}

// MarkRead records that the identity read the message, which implies delivery.
func (e *Engine) MarkRead(ctx context.Context, identity *types.Identity, messageId, channelId string) (bool, error) {
	return e.mark(ctx, identity, messageId, channelId, types.ReadMutation(identity.Id), string(types.MessageStatusRead))
}

func (e *Engine) mark(ctx context.Context, identity *types.Identity, messageId, channelId string, mut types.ReceiptMutation, kind string) (bool, error) {
	if messageId == "" {
		return false, types.NewValidationError("messageId is required")
	}
	msg, err := e.store.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, types.NewNotFoundError("message %s not found", messageId)
		}
		return false, err
	}
	if channelId != "" && channelId != msg.ChannelId {
		return false, types.NewNotFoundError("message %s not found in channel %s", messageId, channelId)
	}
	if err := e.authorizer.CanJoin(ctx, identity, msg.ChannelId); err != nil {
		return false, err
	}
	if msg.SenderId == identity.Id {
		return false, nil
	}
	return e.apply(ctx, msg, mut, kind)
}

// apply must only be called for an authorized recipient of msg.
func (e *Engine) apply(ctx context.Context, msg *types.Message, mut types.ReceiptMutation, kind string) (bool, error) {
	if msg.Covers(mut) {
		return false, nil
	}
	unlock := e.messageLocks.Lock(msg.Id)
	defer unlock()

	updated, changed, err := e.store.UpdateMessage(ctx, msg.Id, mut)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, types.NewNotFoundError("message %s not found", msg.Id)
		}
		e.logger.Error("could not update message", "id", msg.Id, "error", err)
		return false, err
	}
	if !changed {
		return false, nil
	}
	e.metrics.Receipt(kind)
	frame, err := types.EncodeFrame(types.EventMessageStatusUpdated, updated)
	if err != nil {
		return true, err
	}
	e.broadcaster.BroadcastRoom(updated.ChannelId, frame, "")
	return true, nil
}

// MarkChannelRead marks every message in the channel that the identity did not author and did not read yet as
// read. Each changed message is broadcast separately. It returns the number of changed messages.
func (e *Engine) MarkChannelRead(ctx context.Context, identity *types.Identity, channelId string) (int, error) {
	if err := e.authorizer.CanJoin(ctx, identity, channelId); err != nil {
		return 0, err
	}
	unread, err := e.store.UnreadMessages(ctx, channelId, identity.Id)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range unread {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		changed, err := e.apply(ctx, msg, types.ReadMutation(identity.Id), string(types.MessageStatusRead))
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	e.logger.Debug("channel read", "channel", channelId, "identity", identity.Id, "count", count)
	return count, nil
}
