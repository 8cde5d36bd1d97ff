package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/gofrs/flock"
	"github.com/tidwall/buntdb"
)

const (
	userPrefix      = "user:"
	userEmailPrefix = "user_email:"
	groupPrefix     = "group:"
	channelPrefix   = "channel:"
	messagePrefix   = "message:"
	messageIdPrefix = "message_id:"
)

// BuntStore keeps everything in a single BuntDB file (or in memory with ":memory:"). Write transactions in BuntDB
// are serialized, which makes the read-modify-write in UpdateMessage atomic.
type BuntStore struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

// message keys sort by channel and then by timestamp, so per channel key order is persistence order
func messageKey(msg *types.Message) string {
	return fmt.Sprintf("%s%s:%019d:%s", messagePrefix, msg.ChannelId, msg.Timestamp.UnixNano(), msg.Id)
}

func channelMessagesPattern(channelId string) string {
	return messagePrefix + channelId + ":*"
}

func mapNotFound(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := tx.Get(key)
	if err != nil {
		return mapNotFound(err)
	}
	return json.Unmarshal([]byte(raw), v)
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(raw), nil)
	return err
}

func (p *BuntStore) GetUser(_ context.Context, id string) (*types.Identity, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	user := &types.Identity{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, userPrefix+id, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *BuntStore) GetUserByEmail(ctx context.Context, email string) (*types.Identity, error) {
	var id string
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		id, err = tx.Get(userEmailPrefix + strings.ToLower(email))
		return mapNotFound(err)
	})
	if err != nil {
		return nil, err
	}
	return p.GetUser(ctx, id)
}

func (p *BuntStore) StoreUser(_ context.Context, user types.Identity) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		previous := types.Identity{}
		if err := getJSON(tx, userPrefix+user.Id, &previous); err == nil && previous.Email != "" {
			if _, err := tx.Delete(userEmailPrefix + strings.ToLower(previous.Email)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		if user.Email != "" {
			if _, _, err := tx.Set(userEmailPrefix+strings.ToLower(user.Email), user.Id, nil); err != nil {
				return err
			}
		}
		return setJSON(tx, userPrefix+user.Id, user)
	})
}

func (p *BuntStore) GetGroup(_ context.Context, id string) (*types.Group, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	group := &types.Group{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, groupPrefix+id, group)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (p *BuntStore) StoreGroup(_ context.Context, group types.Group) error {
	if group.Id == "" {
		return fmt.Errorf("no group id")
	}
	group.Normalize()
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, groupPrefix+group.Id, group)
	})
}

func (p *BuntStore) GetChannel(_ context.Context, id string) (*types.Channel, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	channel := &types.Channel{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, channelPrefix+id, channel)
	})
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func (p *BuntStore) StoreChannel(_ context.Context, channel types.Channel) error {
	if err := channel.Validate(); err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, channelPrefix+channel.Id, channel)
	})
}

func (p *BuntStore) PersistMessage(_ context.Context, msg *types.Message) error {
	if msg.Id == "" {
		return fmt.Errorf("no message id")
	}
	key := messageKey(msg)
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(messageIdPrefix + msg.Id); err == nil {
			return fmt.Errorf("message %s already exists", msg.Id)
		}
		if _, _, err := tx.Set(messageIdPrefix+msg.Id, key, nil); err != nil {
			return err
		}
		return setJSON(tx, key, msg)
	})
}

func getMessage(tx *buntdb.Tx, id string) (string, *types.Message, error) {
	key, err := tx.Get(messageIdPrefix + id)
	if err != nil {
		return "", nil, mapNotFound(err)
	}
	msg := &types.Message{}
	if err := getJSON(tx, key, msg); err != nil {
		return "", nil, err
	}
	return key, msg, nil
}

func (p *BuntStore) GetMessage(_ context.Context, id string) (*types.Message, error) {
	var msg *types.Message
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		_, msg, err = getMessage(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *BuntStore) UpdateMessage(_ context.Context, id string, mut types.ReceiptMutation) (*types.Message, bool, error) {
	var msg *types.Message
	changed := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		key, current, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		msg = current
		if changed = msg.Apply(mut); !changed {
			return nil
		}
		return setJSON(tx, key, msg)
	})
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

func (p *BuntStore) UnreadMessages(_ context.Context, channelId, readerId string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	if !types.ValidChannelId(channelId) {
		return messages, nil
	}
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(channelMessagesPattern(channelId), func(key, val string) bool {
			msg := &types.Message{}
			if decodeErr = json.Unmarshal([]byte(val), msg); decodeErr != nil {
				return false
			}
			if msg.SenderId != readerId && !msg.IsReadBy(readerId) {
				messages = append(messages, msg)
			}
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *BuntStore) ChannelHistory(_ context.Context, channelId string, offset, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	if !types.ValidChannelId(channelId) {
		return messages, nil
	}
	err := p.db.View(func(tx *buntdb.Tx) error {
		currentNo := -1
		var decodeErr error
		err := tx.DescendKeys(channelMessagesPattern(channelId), func(key, val string) bool {
			currentNo++
			if currentNo < offset {
				return true
			}
			msg := &types.Message{}
			if decodeErr = json.Unmarshal([]byte(val), msg); decodeErr != nil {
				return false
			}
			messages = append(messages, msg)
			return limit <= 0 || len(messages) < limit
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func reverse(messages []*types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

func (p *BuntStore) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}
