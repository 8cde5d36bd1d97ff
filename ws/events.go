package ws

import (
	"encoding/json"
	"fmt"

	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/mitchellh/mapstructure"
)

type eventHandler func(c *Client, data json.RawMessage) error

var eventHandlers map[string]eventHandler

func init() {
	eventHandlers = map[string]eventHandler{
		types.EventHandshake:       handleHandshake,
		types.EventJoinRoom:        handleJoinRoom,
		types.EventLeaveRoom:       handleLeaveRoom,
		types.EventSendMessage:     handleSendMessage,
		types.EventTyping:          typingHandler(types.EventTyping),
		types.EventStopTyping:      typingHandler(types.EventStopTyping),
		types.EventMarkDelivered:   handleMarkDelivered,
		types.EventMarkRead:        handleMarkRead,
		types.EventMarkChannelRead: handleMarkChannelRead,
		types.EventFetchHistory:    handleFetchHistory,
	}
	for kind := range types.SignalKinds {
		eventHandlers[kind] = signalHandler(kind)
	}
}

// dispatch runs the handler of one client event. Every failure, including a panic, ends up as an error frame for this
// client only.
func (c *Client) dispatch(message types.WebsocketMessage) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", message.Event, r)
		}
		if err == nil {
			return
		}
		kind := types.KindOf(err)
		c.hub.metrics.EventError(string(kind))
		if kind == types.ErrorKindInternal {
			c.hub.logger.Error("could not handle event", "event", message.Event, "connection", c.id, "error", err)
		} else {
			c.hub.logger.Debug("event refused", "event", message.Event, "connection", c.id, "error", err)
		}
		c.sendError(err)
	}()
	handler, ok := eventHandlers[message.Event]
	if !ok {
		err = types.NewValidationError("unknown event %q", message.Event)
		return
	}
	err = handler(c, message.Data)
}

// decodePayload weakly decodes the event data into v. A bare string is accepted as the value of stringKey.
func decodePayload(data json.RawMessage, v interface{}, stringKey string) error {
	if len(data) == 0 {
		return types.NewValidationError("missing payload")
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.NewValidationError("malformed payload")
	}
	if s, ok := raw.(string); ok && stringKey != "" {
		raw = map[string]interface{}{stringKey: s}
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		return types.NewValidationError("payload must be an object")
	}
	if err := mapstructure.WeakDecode(raw, v); err != nil {
		return types.NewValidationError("malformed payload: %s", err)
	}
	return nil
}

func handleHandshake(_ *Client, _ json.RawMessage) error {
	return types.NewValidationError("already authenticated")
}

func handleJoinRoom(c *Client, data json.RawMessage) error {
	payload := types.RoomPayload{}
	if err := decodePayload(data, &payload, "channelId"); err != nil {
		return err
	}
	if err := c.hub.authorizer.CanJoin(c.ctx, c.identity, payload.ChannelId); err != nil {
		// access may have been revoked since an earlier join
		if types.IsKind(err, types.ErrorKindAuthorization) || types.IsKind(err, types.ErrorKindNotFound) {
			if c.hub.rooms.Leave(c, payload.ChannelId) {
				c.hub.logger.Debug("removed from room after denied join", "identity", c.identity.Id, "room", payload.ChannelId)
			}
		}
		return err
	}
	c.hub.rooms.Join(c, payload.ChannelId)
	c.sendEvent(types.EventRoomJoined, payload)
	return nil
}

func handleLeaveRoom(c *Client, data json.RawMessage) error {
	payload := types.RoomPayload{}
	if err := decodePayload(data, &payload, "channelId"); err != nil {
		return err
	}
	if !c.hub.rooms.Leave(c, payload.ChannelId) {
		return types.NewNotFoundError("room %s not joined", payload.ChannelId)
	}
	c.sendEvent(types.EventRoomLeft, payload)
	return nil
}

func handleSendMessage(c *Client, data json.RawMessage) error {
	payload := types.SendMessagePayload{}
	if err := decodePayload(data, &payload, ""); err != nil {
		return err
	}
	_, err := c.hub.pipeline.Send(c.ctx, c.identity, payload.ChannelId, payload.Content, payload.ClientMessageId)
	return err
}

// typingHandler relays typing indicators to the other connections of a room the client joined.
func typingHandler(event string) eventHandler {
	return func(c *Client, data json.RawMessage) error {
		payload := types.RoomPayload{}
		if err := decodePayload(data, &payload, "channelId"); err != nil {
			return err
		}
		if payload.ChannelId == "" {
			return types.NewValidationError("channelId is required")
		}
		if !c.hub.rooms.InRoom(c.id, payload.ChannelId) {
			return types.NewAuthorizationError("room %s not joined", payload.ChannelId)
		}
		typing := types.TypingPayload{ChannelId: payload.ChannelId, UserId: c.identity.Id}
		if event == types.EventTyping {
			typing.Username = c.identity.Username
		}
		frame, err := types.EncodeFrame(event, typing)
		if err != nil {
			return err
		}
		c.hub.rooms.BroadcastRoom(payload.ChannelId, frame, c.id)
		return nil
	}
}

func handleMarkDelivered(c *Client, data json.RawMessage) error {
	payload := types.ReceiptPayload{}
	if err := decodePayload(data, &payload, "messageId"); err != nil {
		return err
	}
	_, err := c.hub.engine.MarkDelivered(c.ctx, c.identity, payload.MessageId, payload.ChannelId)
	return err
}

func handleMarkRead(c *Client, data json.RawMessage) error {
	payload := types.ReceiptPayload{}
	if err := decodePayload(data, &payload, "messageId"); err != nil {
		return err
	}
	_, err := c.hub.engine.MarkRead(c.ctx, c.identity, payload.MessageId, payload.ChannelId)
	return err
}

func handleMarkChannelRead(c *Client, data json.RawMessage) error {
	payload := types.RoomPayload{}
	if err := decodePayload(data, &payload, "channelId"); err != nil {
		return err
	}
	count, err := c.hub.engine.MarkChannelRead(c.ctx, c.identity, payload.ChannelId)
	if err != nil {
		return err
	}
	c.sendEvent(types.EventChannelRead, types.ChannelReadPayload{ChannelId: payload.ChannelId, Count: count})
	return nil
}

func handleFetchHistory(c *Client, data json.RawMessage) error {
	payload := types.HistoryPayload{}
	if err := decodePayload(data, &payload, "channelId"); err != nil {
		return err
	}
	messages, err := c.hub.pipeline.History(c.ctx, c.identity, payload.ChannelId, payload.Page, payload.Limit)
	if err != nil {
		return err
	}
	c.sendEvent(types.EventHistory, types.HistoryResultPayload{ChannelId: payload.ChannelId, Page: payload.Page, Messages: messages})
	return nil
}

func signalHandler(kind string) eventHandler {
	return func(c *Client, data json.RawMessage) error {
		payload := types.SignalPayload{}
		if err := decodePayload(data, &payload, ""); err != nil {
			return err
		}
		_, err := c.hub.relay.Relay(c.identity, kind, payload.TargetIdentityId, payload.Payload)
		return err
	}
}
