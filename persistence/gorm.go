package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sourabh10122002/talkie-server/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	roleMember = "member"
	roleAdmin  = "admin"

	receiptDelivered = "delivered"
	receiptRead      = "read"
)

type userRecord struct {
	Id       string `gorm:"primaryKey"`
	Username string
	Email    string `gorm:"index"`
	Avatar   string
}

func (userRecord) TableName() string { return "users" }

type groupRecord struct {
	Id        string `gorm:"primaryKey"`
	Name      string
	OwnerId   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (groupRecord) TableName() string { return "chat_groups" }

type groupRoleRecord struct {
	GroupId string `gorm:"primaryKey"`
	UserId  string `gorm:"primaryKey"`
	Role    string `gorm:"primaryKey"`
}

func (groupRoleRecord) TableName() string { return "group_roles" }

type channelRecord struct {
	Id      string `gorm:"primaryKey"`
	Name    string
	Type    string
	GroupId string `gorm:"index"`
}

func (channelRecord) TableName() string { return "channels" }

type channelMemberRecord struct {
	ChannelId string `gorm:"primaryKey"`
	UserId    string `gorm:"primaryKey"`
}

func (channelMemberRecord) TableName() string { return "channel_members" }

type messageRecord struct {
	Id        string `gorm:"primaryKey"`
	ChannelId string `gorm:"index:idx_messages_channel_created"`
	SenderId  string `gorm:"index"`
	Content   string
	Timestamp time.Time
	// CreatedNanos orders messages within a channel, it has a higher precision than some timestamp columns
	CreatedNanos int64 `gorm:"index:idx_messages_channel_created"`
	Status       string
}

func (messageRecord) TableName() string { return "messages" }

type receiptRecord struct {
	MessageId string `gorm:"primaryKey"`
	UserId    string `gorm:"primaryKey"`
	Kind      string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (receiptRecord) TableName() string { return "message_receipts" }

// GormStore is the SQL backed Store (sqlite or postgres). Receipts live in their own table, adding a user to
// deliveredTo/readBy is an INSERT .. ON CONFLICT DO NOTHING, so concurrent marks never overwrite each other.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dbType, dsn string) (*GormStore, error) {
	var dial gorm.Dialector
	switch dbType {
	case "postgres":
		dial = postgres.Open(dsn)

	case "sqlite":
		dial = sqlite.Open(dsn)

	default:
		return nil, fmt.Errorf("invalid gorm configuration: unknown type %q", dbType)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if dbType == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite only has one writer anyway, this avoids "database is locked" errors
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&userRecord{}, &groupRecord{}, &groupRoleRecord{}, &channelRecord{},
		&channelMemberRecord{}, &messageRecord{}, &receiptRecord{})
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func mapGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormStore) GetUser(ctx context.Context, id string) (*types.Identity, error) {
	rec := userRecord{}
	if err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, mapGormError(err)
	}
	return rec.identity(), nil
}

func (p *GormStore) GetUserByEmail(ctx context.Context, email string) (*types.Identity, error) {
	rec := userRecord{}
	if err := p.db.WithContext(ctx).First(&rec, "email = ?", strings.ToLower(email)).Error; err != nil {
		return nil, mapGormError(err)
	}
	return rec.identity(), nil
}

func (r userRecord) identity() *types.Identity {
	return &types.Identity{Id: r.Id, Username: r.Username, Email: r.Email, Avatar: r.Avatar}
}

func (p *GormStore) StoreUser(ctx context.Context, user types.Identity) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	rec := userRecord{Id: user.Id, Username: user.Username, Email: strings.ToLower(user.Email), Avatar: user.Avatar}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (p *GormStore) GetGroup(ctx context.Context, id string) (*types.Group, error) {
	rec := groupRecord{}
	if err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, mapGormError(err)
	}
	roles := make([]groupRoleRecord, 0)
	if err := p.db.WithContext(ctx).Where("group_id = ?", id).Order("user_id").Find(&roles).Error; err != nil {
		return nil, err
	}
	group := &types.Group{
		Id:        rec.Id,
		Name:      rec.Name,
		OwnerId:   rec.OwnerId,
		AdminIds:  make([]string, 0),
		MemberIds: make([]string, 0),
	}
	for _, role := range roles {
		switch role.Role {
		case roleAdmin:
			group.AdminIds = append(group.AdminIds, role.UserId)
		case roleMember:
			group.MemberIds = append(group.MemberIds, role.UserId)
		}
	}
	return group, nil
}

func (p *GormStore) StoreGroup(ctx context.Context, group types.Group) error {
	if group.Id == "" {
		return fmt.Errorf("no group id")
	}
	group.Normalize()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := groupRecord{Id: group.Id, Name: group.Name, OwnerId: group.OwnerId}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", group.Id).Delete(&groupRoleRecord{}).Error; err != nil {
			return err
		}
		roles := make([]groupRoleRecord, 0, len(group.MemberIds)+len(group.AdminIds))
		for _, id := range group.MemberIds {
			roles = append(roles, groupRoleRecord{GroupId: group.Id, UserId: id, Role: roleMember})
		}
		for _, id := range group.AdminIds {
			roles = append(roles, groupRoleRecord{GroupId: group.Id, UserId: id, Role: roleAdmin})
		}
		if len(roles) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&roles).Error
	})
}

func (p *GormStore) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	rec := channelRecord{}
	if err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, mapGormError(err)
	}
	members := make([]string, 0)
	err := p.db.WithContext(ctx).Model(&channelMemberRecord{}).Where("channel_id = ?", id).Order("user_id").
		Pluck("user_id", &members).Error
	if err != nil {
		return nil, err
	}
	return &types.Channel{
		Id:      rec.Id,
		Name:    rec.Name,
		Type:    types.ChannelType(rec.Type),
		GroupId: rec.GroupId,
		Members: members,
	}, nil
}

func (p *GormStore) StoreChannel(ctx context.Context, channel types.Channel) error {
	if err := channel.Validate(); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := channelRecord{Id: channel.Id, Name: channel.Name, Type: string(channel.Type), GroupId: channel.GroupId}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channel.Id).Delete(&channelMemberRecord{}).Error; err != nil {
			return err
		}
		if len(channel.Members) == 0 {
			return nil
		}
		members := make([]channelMemberRecord, 0, len(channel.Members))
		for _, id := range channel.Members {
			members = append(members, channelMemberRecord{ChannelId: channel.Id, UserId: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
}

func (p *GormStore) PersistMessage(ctx context.Context, msg *types.Message) error {
	if msg.Id == "" {
		return fmt.Errorf("no message id")
	}
	rec := messageRecord{
		Id:           msg.Id,
		ChannelId:    msg.ChannelId,
		SenderId:     msg.SenderId,
		Content:      msg.Content,
		Timestamp:    msg.Timestamp.UTC(),
		CreatedNanos: msg.Timestamp.UnixNano(),
		Status:       string(msg.Status),
	}
	return p.db.WithContext(ctx).Create(&rec).Error
}

func (p *GormStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	rec := messageRecord{}
	if err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, mapGormError(err)
	}
	messages, err := p.populate(p.db.WithContext(ctx), []messageRecord{rec})
	if err != nil {
		return nil, err
	}
	return messages[0], nil
}

// statusesBelow lists the statuses a message may still be advanced from when it reaches status.
func statusesBelow(status types.MessageStatus) []string {
	switch status {
	case types.MessageStatusRead:
		return []string{string(types.MessageStatusSent), string(types.MessageStatusDelivered)}
	case types.MessageStatusDelivered:
		return []string{string(types.MessageStatusSent)}
	}
	return nil
}

func (p *GormStore) UpdateMessage(ctx context.Context, id string, mut types.ReceiptMutation) (*types.Message, bool, error) {
	var msg *types.Message
	changed := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := messageRecord{}
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return mapGormError(err)
		}
		receipts := make([]receiptRecord, 0, 2)
		if mut.DeliveredTo != "" {
			receipts = append(receipts, receiptRecord{MessageId: id, UserId: mut.DeliveredTo, Kind: receiptDelivered})
		}
		if mut.ReadBy != "" {
			if mut.ReadBy != mut.DeliveredTo {
				receipts = append(receipts, receiptRecord{MessageId: id, UserId: mut.ReadBy, Kind: receiptDelivered})
			}
			receipts = append(receipts, receiptRecord{MessageId: id, UserId: mut.ReadBy, Kind: receiptRead})
		}
		for i := range receipts {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts[i])
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				changed = true
			}
		}
		messages, err := p.populate(tx, []messageRecord{rec})
		if err != nil {
			return err
		}
		msg = messages[0]
		if !changed {
			return nil
		}
		// only ever move the stored status forward, a concurrent transaction may have advanced it already
		return tx.Model(&messageRecord{}).
			Where("id = ? AND status IN ?", id, statusesBelow(msg.Status)).
			Update("status", string(msg.Status)).Error
	})
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

func (p *GormStore) UnreadMessages(ctx context.Context, channelId, readerId string) ([]*types.Message, error) {
	db := p.db.WithContext(ctx)
	read := db.Model(&receiptRecord{}).Select("message_id").Where("user_id = ? AND kind = ?", readerId, receiptRead)
	recs := make([]messageRecord, 0)
	err := db.Where("channel_id = ? AND sender_id <> ?", channelId, readerId).
		Where("id NOT IN (?)", read).
		Order("created_nanos ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return p.populate(db, recs)
}

func (p *GormStore) ChannelHistory(ctx context.Context, channelId string, offset, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	db := p.db.WithContext(ctx)
	recs := make([]messageRecord, 0)
	err := db.Where("channel_id = ?", channelId).
		Order("created_nanos DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	messages, err := p.populate(db, recs)
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

// populate converts message rows into messages, attaching receipts and the sender's public fields.
func (p *GormStore) populate(db *gorm.DB, recs []messageRecord) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, len(recs))
	if len(recs) == 0 {
		return messages, nil
	}
	ids := make([]string, 0, len(recs))
	senderIds := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.Id)
		senderIds = append(senderIds, rec.SenderId)
	}
	receipts := make([]receiptRecord, 0)
	if err := db.Where("message_id IN ?", ids).Order("created_at ASC, user_id ASC").Find(&receipts).Error; err != nil {
		return nil, err
	}
	users := make([]userRecord, 0)
	if err := db.Where("id IN ?", senderIds).Find(&users).Error; err != nil {
		return nil, err
	}
	userById := make(map[string]userRecord, len(users))
	for _, u := range users {
		userById[u.Id] = u
	}
	byId := make(map[string]*types.Message, len(recs))
	for _, rec := range recs {
		msg := &types.Message{
			Id:          rec.Id,
			ChannelId:   rec.ChannelId,
			SenderId:    rec.SenderId,
			Sender:      &types.PublicIdentity{Id: rec.SenderId},
			Content:     rec.Content,
			Timestamp:   time.Unix(0, rec.CreatedNanos).UTC(),
			Status:      types.MessageStatus(rec.Status),
			DeliveredTo: make([]string, 0),
			ReadBy:      make([]string, 0),
		}
		if u, ok := userById[rec.SenderId]; ok {
			msg.Sender = u.identity().Public()
		}
		byId[rec.Id] = msg
		messages = append(messages, msg)
	}
	for _, r := range receipts {
		msg := byId[r.MessageId]
		switch r.Kind {
		case receiptDelivered:
			msg.DeliveredTo = append(msg.DeliveredTo, r.UserId)
		case receiptRead:
			msg.ReadBy = append(msg.ReadBy, r.UserId)
		}
	}
	for _, msg := range messages {
		msg.Recompute()
	}
	return messages, nil
}

func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
