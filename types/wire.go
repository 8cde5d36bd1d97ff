package types

import "encoding/json"

const (
	EventHandshake = "handshake"
	EventReady     = "ready"
	EventError     = "error"

	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventRoomJoined = "room_joined"
	EventRoomLeft   = "room_left"

	EventSendMessage     = "send_message"
	EventMessageReceived = "message_received"
	EventTyping          = "typing"
	EventStopTyping      = "stop_typing"
	EventFetchHistory    = "fetch_history"
	EventHistory         = "history"

	EventMarkDelivered        = "mark_delivered"
	EventMarkRead             = "mark_read"
	EventMarkChannelRead      = "mark_channel_read"
	EventChannelRead          = "channel_read"
	EventMessageStatusUpdated = "message_status_updated"

	EventPresenceSnapshot = "presence_snapshot"

	EventCallOffer    = "call_offer"
	EventCallAnswer   = "call_answer"
	EventIceCandidate = "ice_candidate"
	EventCallEnd      = "call_end"
)

// SignalKinds are the call-setup events forwarded by the signaling relay.
var SignalKinds = map[string]struct{}{
	EventCallOffer:    {},
	EventCallAnswer:   {},
	EventIceCandidate: {},
	EventCallEnd:      {},
}

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame wraps data into a WebsocketMessage and serializes it.
func EncodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}

// Incoming payloads. The mapstructure tags are used to weakly decode the client data.

type HandshakePayload struct {
	Token    string `json:"token" mapstructure:"token"`
	Provider string `json:"provider" mapstructure:"provider"`
}

type RoomPayload struct {
	ChannelId string `json:"channelId" mapstructure:"channelId"`
}

type SendMessagePayload struct {
	ChannelId       string `json:"channelId" mapstructure:"channelId"`
	Content         string `json:"content" mapstructure:"content"`
	ClientMessageId string `json:"clientMessageId" mapstructure:"clientMessageId"`
}

type ReceiptPayload struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
	ChannelId string `json:"channelId" mapstructure:"channelId"`
}

type HistoryPayload struct {
	ChannelId string `json:"channelId" mapstructure:"channelId"`
	Page      int    `json:"page" mapstructure:"page"`
	Limit     int    `json:"limit" mapstructure:"limit"`
}

type SignalPayload struct {
	TargetIdentityId string      `json:"targetIdentityId" mapstructure:"targetIdentityId"`
	Payload          interface{} `json:"payload" mapstructure:"payload"`
}

// Outgoing payloads.

type ReadyPayload struct {
	ConnectionId string          `json:"connectionId"`
	Identity     *PublicIdentity `json:"identity"`
}

type TypingPayload struct {
	ChannelId string `json:"channelId"`
	UserId    string `json:"userId"`
	Username  string `json:"username,omitempty"`
}

type ChannelReadPayload struct {
	ChannelId string `json:"channelId"`
	Count     int    `json:"count"`
}

type HistoryResultPayload struct {
	ChannelId string     `json:"channelId"`
	Page      int        `json:"page"`
	Messages  []*Message `json:"messages"`
}

type SignalDelivery struct {
	From    *PublicIdentity `json:"from"`
	Payload interface{}     `json:"payload"`
}

type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
