package types

import (
	"fmt"
	"strings"
)

type ChannelType string

const (
	ChannelTypePublic  ChannelType = "public"
	ChannelTypePrivate ChannelType = "private"
	ChannelTypeVoice   ChannelType = "voice"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypePublic, ChannelTypePrivate, ChannelTypeVoice:
		return true
	}
	return false
}

// Channel is the room a message is posted to. Channels always belong to exactly one group.
type Channel struct {
	Id      string      `json:"id"`
	Name    string      `json:"name"`
	Type    ChannelType `json:"type"`
	GroupId string      `json:"groupId"`
	Members []string    `json:"members"`
}

// channel ids become part of store keys and key patterns
const reservedChannelIdChars = ":*?[]\\"

func ValidChannelId(id string) bool {
	return id != "" && !strings.ContainsAny(id, reservedChannelIdChars)
}

func (c *Channel) Validate() error {
	if c.Id == "" {
		return fmt.Errorf("no channel id")
	}
	if !ValidChannelId(c.Id) {
		return fmt.Errorf("channel id %q must not contain any of %q", c.Id, reservedChannelIdChars)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("invalid channel type %q", c.Type)
	}
	return nil
}

func (c *Channel) HasMember(userId string) bool {
	return contains(c.Members, userId)
}

// Group owns channels and carries the roles used for authorization.
type Group struct {
	Id       string   `json:"id"`
	Name     string   `json:"name"`
	OwnerId  string   `json:"ownerId"`
	AdminIds []string `json:"adminIds"`
	// MemberIds contains every member, regardless of role
	MemberIds []string `json:"memberIds"`
}

func (g *Group) IsOwner(userId string) bool {
	return userId != "" && g.OwnerId == userId
}

func (g *Group) IsAdmin(userId string) bool {
	return contains(g.AdminIds, userId)
}

func (g *Group) IsMember(userId string) bool {
	return contains(g.MemberIds, userId)
}

// Normalize makes sure the owner is both a member and an admin.
func (g *Group) Normalize() {
	if g.OwnerId == "" {
		return
	}
	if !g.IsMember(g.OwnerId) {
		g.MemberIds = append(g.MemberIds, g.OwnerId)
	}
	if !g.IsAdmin(g.OwnerId) {
		g.AdminIds = append(g.AdminIds, g.OwnerId)
	}
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
