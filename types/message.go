package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return 0
}

// Message is a chat message posted to a channel. DeliveredTo and ReadBy only ever grow, Status is derived from them.
type Message struct {
	Id          string          `json:"id"`
	ChannelId   string          `json:"channelId"`
	SenderId    string          `json:"senderId"`
	Sender      *PublicIdentity `json:"sender,omitempty"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      MessageStatus   `json:"status"`
	DeliveredTo []string        `json:"deliveredTo"`
	ReadBy      []string        `json:"readBy"`
}

// ReceiptMutation is a set-union update of a message's receipts. Empty fields are ignored.
type ReceiptMutation struct {
	DeliveredTo string
	ReadBy      string
}

func DeliveredMutation(userId string) ReceiptMutation {
	return ReceiptMutation{DeliveredTo: userId}
}

// ReadMutation also adds the reader to DeliveredTo, reading implies delivery.
func ReadMutation(userId string) ReceiptMutation {
	return ReceiptMutation{DeliveredTo: userId, ReadBy: userId}
}

func NewMessage(channelId string, sender *Identity, content string, ts time.Time) *Message {
	return &Message{
		ChannelId:   channelId,
		SenderId:    sender.Id,
		Sender:      sender.Public(),
		Content:     content,
		Timestamp:   ts,
		Status:      MessageStatusSent,
		DeliveredTo: make([]string, 0),
		ReadBy:      make([]string, 0),
	}
}

// CreateId sets the message id to a hash over the message's identifying fields. The nonce disambiguates messages with
// equal content sent within the same clock tick.
func (m *Message) CreateId(nonce uint64) error {
	key := struct {
		ChannelId string
		SenderId  string
		Content   string
		Timestamp int64
		Nonce     uint64
	}{m.ChannelId, m.SenderId, m.Content, m.Timestamp.UnixNano(), nonce}
	hash, err := hashstructure.Hash(key, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", hash)
	return nil
}

func (m *Message) IsDeliveredTo(userId string) bool {
	return contains(m.DeliveredTo, userId)
}

func (m *Message) IsReadBy(userId string) bool {
	return contains(m.ReadBy, userId)
}

// Covers reports whether applying mut would be a no-op.
func (m *Message) Covers(mut ReceiptMutation) bool {
	if mut.DeliveredTo != "" && !m.IsDeliveredTo(mut.DeliveredTo) {
		return false
	}
	if mut.ReadBy != "" && !m.IsReadBy(mut.ReadBy) {
		return false
	}
	return true
}

// Apply merges mut into the receipt sets and recomputes the status. It returns true if anything changed.
func (m *Message) Apply(mut ReceiptMutation) bool {
	changed := false
	if mut.ReadBy != "" && !m.IsDeliveredTo(mut.ReadBy) {
		m.DeliveredTo = append(m.DeliveredTo, mut.ReadBy)
		changed = true
	}
	if mut.DeliveredTo != "" && !m.IsDeliveredTo(mut.DeliveredTo) {
		m.DeliveredTo = append(m.DeliveredTo, mut.DeliveredTo)
		changed = true
	}
	if mut.ReadBy != "" && !m.IsReadBy(mut.ReadBy) {
		m.ReadBy = append(m.ReadBy, mut.ReadBy)
		changed = true
	}
	m.Recompute()
	return changed
}

// Recompute derives Status from the receipt sets. The status never moves backwards.
func (m *Message) Recompute() {
	derived := MessageStatusSent
	switch {
	case len(m.ReadBy) > 0:
		derived = MessageStatusRead
	case len(m.DeliveredTo) > 0:
		derived = MessageStatusDelivered
	}
	if derived.rank() > m.Status.rank() || m.Status == "" {
		m.Status = derived
	}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Sender != nil {
		s := *m.Sender
		c.Sender = &s
	}
	c.DeliveredTo = append(make([]string, 0, len(m.DeliveredTo)), m.DeliveredTo...)
	c.ReadBy = append(make([]string, 0, len(m.ReadBy)), m.ReadBy...)
	return &c
}
